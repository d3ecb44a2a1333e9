/*
Package cli holds the helpers shared by the keyweave commands.

Output Formatting:

Command results are written as text, JSON or CSV. Values implementing
Table render as aligned columns in text mode and as rows in CSV mode:

	formatter := cli.NewFormatter(cli.FormatText)
	if err := formatter.FormatTo(os.Stdout, keysTable); err != nil {
		return err
	}

Progress Reporting:

	progress := cli.NewProgressReporter(os.Stderr, "Selecting")
	progress.Start(total)
	for i := range total {
		progress.Update(i + 1)
	}
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

Exit codes:

ExitCode maps command errors to process exit codes: 0 for success, 2 for
configuration problems and 1 for everything else.
*/
package cli
