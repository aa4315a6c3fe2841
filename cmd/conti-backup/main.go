// conti-backup exports, inspects and restores backup files against the
// local store.
//
// Usage:
//
//	conti-backup export  -out backup.json [-encrypt]
//	conti-backup import  -in backup.json [-restore]
//	conti-backup restore -in backup.json
//	conti-backup list
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"conti/internal/backup"
	"conti/internal/config"
	"conti/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration: %v", err)
	}

	store, err := storage.Open(cfg.SQLiteDBPath)
	if err != nil {
		fatal("open store at %s: %v", cfg.SQLiteDBPath, err)
	}
	defer store.Close()

	builder := backup.NewBuilder(store, cfg.AppVersion)
	ctx := context.Background()

	switch os.Args[1] {
	case "export":
		runExport(ctx, builder, os.Args[2:])
	case "import":
		runImport(ctx, builder, os.Args[2:])
	case "restore":
		runImport(ctx, builder, append([]string{"-restore"}, os.Args[2:]...))
	case "list":
		runList(ctx, builder)
	default:
		usage()
		os.Exit(2)
	}
}

func runExport(ctx context.Context, builder *backup.Builder, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "backup.json", "output file path")
	encrypt := fs.Bool("encrypt", false, "encrypt the backup with a password")
	fs.Parse(args)

	var password string
	if *encrypt {
		password = promptPassword("Backup password: ")
		if password == "" {
			fatal("empty password")
		}
		if confirm := promptPassword("Confirm password: "); confirm != password {
			fatal("passwords do not match")
		}
	}

	snap, err := builder.CreateSnapshot(ctx)
	if err != nil {
		fatal("create snapshot: %v", err)
	}
	if err := builder.ExportToFile(ctx, snap, *out, password); err != nil {
		fatal("export: %v", err)
	}
	fmt.Printf("Exported %d expenses, %d categories to %s\n",
		snap.Metadata.TotalExpenses, snap.Metadata.TotalCategories, *out)
}

func runImport(ctx context.Context, builder *backup.Builder, args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	in := fs.String("in", "backup.json", "input file path")
	restore := fs.Bool("restore", false, "apply the backup to the store (destructive)")
	fs.Parse(args)

	snap, err := builder.ImportFromFile(ctx, *in, "")
	if errors.Is(err, backup.ErrPasswordRequired) {
		password := promptPassword("Backup password: ")
		snap, err = builder.ImportFromFile(ctx, *in, password)
	}
	if err != nil {
		fatal("import: %v", err)
	}

	fmt.Printf("Backup %s created at %s (app %s)\n", snap.Version, snap.CreatedAt, snap.AppVersion)
	fmt.Printf("  expenses: %d, categories: %d, media files: %d\n",
		snap.Metadata.TotalExpenses, snap.Metadata.TotalCategories, snap.Metadata.FileCount)
	if snap.Metadata.DateRange != nil {
		fmt.Printf("  date range: %s .. %s\n", snap.Metadata.DateRange.From, snap.Metadata.DateRange.To)
	}

	if !*restore {
		return
	}
	if err := builder.Restore(ctx, snap); err != nil {
		fatal("restore: %v", err)
	}
	fmt.Println("Restore complete")
}

func runList(ctx context.Context, builder *backup.Builder) {
	scheduler := backup.NewScheduler(builder)
	stored, err := scheduler.ListStored(ctx)
	if err != nil {
		fatal("list stored backups: %v", err)
	}
	if len(stored) == 0 {
		fmt.Println("No automatic backups stored")
		return
	}
	for _, s := range stored {
		fmt.Printf("%s  expenses=%d categories=%d\n",
			s.Key, s.Snapshot.Metadata.TotalExpenses, s.Snapshot.Metadata.TotalCategories)
	}
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatal("read password: %v", err)
	}
	return string(raw)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: conti-backup <export|import|restore|list> [flags]")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
