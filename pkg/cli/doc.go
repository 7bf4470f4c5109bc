/*
Package cli provides helpers shared by the ratekeeper commands.

Output Formatting:

Command results are rendered as text, JSON or CSV. Results that implement
Table are written as aligned columns in text mode and as rows in CSV mode:

	format, err := cli.ParseOutputFormat(flagValue)
	if err != nil {
		return err
	}
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, result); err != nil {
		return err
	}

Progress Reporting:

Long-running commands such as benchmark draw a progress bar on stderr:

	progress := cli.NewProgressReporterWithUnit(nil, "checks")
	progress.Start(total)
	progress.Update(done)
	progress.Finish()

Signals:

SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM. A
second signal exits immediately.

Errors:

ConfigError and CommandError carry context for failures; ExitCode maps them
to the process exit status.
*/
package cli
