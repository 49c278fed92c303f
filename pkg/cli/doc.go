/*
Package cli provides command-line helpers shared by the gaia commands.

Output Formatting:

Commands that print results support text and JSON output:

	format, err := cli.ParseFormat(flagValue)
	if err != nil {
		return err
	}
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, result); err != nil {
		return err
	}

Errors:

ConfigError names the offending configuration field; ConfigErrors expands a
config.ValidationError into one ConfigError per field. CommandError wraps the
failure of a subcommand.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx := cli.SetupSignalHandler(logger)
	// ctx is cancelled on the first signal; a second one exits at once.
*/
package cli
