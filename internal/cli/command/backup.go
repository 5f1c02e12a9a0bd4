package command

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/seqmesh-go/internal/cli/output"
	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/storage"
	"github.com/yndnr/seqmesh-go/internal/storage/sealed"
	"github.com/yndnr/seqmesh-go/internal/telemetry/logger"
)

func passphraseFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "passphrase",
		Usage:   "Passphrase of a sealed backup",
		EnvVars: []string{"SEQMESH_BACKUP_PASSPHRASE"},
	}
}

// BackupCommand returns the backup subcommand group.
func BackupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Back up and restore the server's storage",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Stream a full backup to a local file (badger driver only)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Destination file (default: seqmesh-<time>.backup[.sealed])",
					},
					&cli.BoolFlag{
						Name:  "quiet",
						Usage: "Do not print progress",
					},
				},
				Action: backupCreate,
			},
			{
				Name:      "unseal",
				Usage:     "Decrypt a sealed backup into a plain badger backup",
				ArgsUsage: "SEALED_FILE",
				Flags: []cli.Flag{
					passphraseFlag(),
					&cli.StringFlag{
						Name:     "out",
						Usage:    "Destination file",
						Required: true,
					},
				},
				Action: backupUnseal,
			},
			{
				Name:      "restore",
				Usage:     "Load a backup into a stopped server's data directory",
				ArgsUsage: "BACKUP_FILE",
				Flags: []cli.Flag{
					passphraseFlag(),
					&cli.StringFlag{
						Name:     "data-dir",
						Usage:    "The server's storage.data_dir",
						Required: true,
					},
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Skip confirmation",
					},
				},
				Action: backupRestore,
			},
		},
	}
}

func backupCreate(c *cli.Context) error {
	_, client, err := adminClient(c)
	if err != nil {
		return err
	}

	path := c.String("file")
	stamp := time.Now().UTC().Format("20060102T150405Z")
	if path == "" {
		path = fmt.Sprintf("seqmesh-%s.backup", stamp)
	}

	// Write to a temp file beside the target so a failed stream never
	// leaves a truncated backup under the final name.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".seqmesh-backup-*")
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var sink io.Writer = tmp
	var progress *output.Progress
	if !c.Bool("quiet") {
		progress = output.NewProgress(os.Stderr, "backup", 0)
		sink = io.MultiWriter(tmp, progress)
	}

	ctx, cancel := commandContext(c, 0)
	defer cancel()

	n, err := client.Download(ctx, pathBackup, sink)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		tmp.Close()
		return err
	}

	if !c.IsSet("file") {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			tmp.Close()
			return fmt.Errorf("inspect backup: %w", err)
		}
		if ok, _ := sealed.IsSealed(bufio.NewReader(tmp)); ok {
			path += ".sealed"
		}
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close backup file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move backup into place: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Backup written to %s (%s).\n", path, output.FormatBytes(n))
	return nil
}

// openBackup opens a backup file, unsealing it when it carries the sealed
// header. The caller closes the returned file.
func openBackup(path, passphrase string) (io.Reader, *os.File, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, false, fmt.Errorf("open backup: %w", err)
	}

	br := bufio.NewReader(f)
	isSealed, err := sealed.IsSealed(br)
	if err != nil {
		f.Close()
		return nil, nil, false, fmt.Errorf("read backup: %w", err)
	}
	if !isSealed {
		return br, f, false, nil
	}

	if passphrase == "" {
		f.Close()
		return nil, nil, true, domain.ErrInvalidArgument.WithDetails("backup is sealed; --passphrase is required")
	}
	r, err := sealed.NewReader(br, []byte(passphrase))
	if err != nil {
		f.Close()
		return nil, nil, true, err
	}
	return r, f, true, nil
}

func backupUnseal(c *cli.Context) error {
	in := c.Args().First()
	if in == "" {
		return fmt.Errorf("sealed file required")
	}
	if c.String("passphrase") == "" {
		return domain.ErrInvalidArgument.WithDetails("--passphrase is required")
	}

	r, f, isSealed, err := openBackup(in, c.String("passphrase"))
	if err != nil {
		return err
	}
	defer f.Close()
	if !isSealed {
		return sealed.ErrNotSealed
	}

	out := c.String("out")
	tmp, err := os.CreateTemp(filepath.Dir(out), ".seqmesh-unseal-*")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return fmt.Errorf("move output into place: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Unsealed %s to %s (%s).\n", in, out, output.FormatBytes(n))
	return nil
}

func backupRestore(c *cli.Context) error {
	in := c.Args().First()
	if in == "" {
		return fmt.Errorf("backup file required")
	}
	dir := c.String("data-dir")
	if !confirm(c, fmt.Sprintf("Restore %s into %s? The server must be stopped; existing keys are overwritten.", in, dir)) {
		fmt.Fprintln(c.App.Writer, "Cancelled.")
		return nil
	}

	r, f, _, err := openBackup(in, c.String("passphrase"))
	if err != nil {
		return err
	}
	defer f.Close()

	engine, err := storage.NewBadgerEngine(storage.DefaultKVConfig(dir), logger.ToSlog(logger.Discard()))
	if err != nil {
		return domain.ErrStoreUnavailable.WithDetailsf("open %s", dir).WithCause(err)
	}

	ctx, cancel := commandContext(c, 0)
	defer cancel()

	restoreErr := engine.Restore(ctx, r)
	if err := engine.Close(); err != nil && restoreErr == nil {
		restoreErr = err
	}
	if restoreErr != nil {
		return fmt.Errorf("restore: %w", restoreErr)
	}

	fmt.Fprintf(c.App.Writer, "Restored %s into %s.\n", in, dir)
	return nil
}
