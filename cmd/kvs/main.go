package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kjk/kvs/kvstore"
	"github.com/kjk/kvs/log"
	"github.com/kjk/kvs/minioutil"
	"github.com/kjk/kvs/u"
	"github.com/minio/minio-go/v7"
	"github.com/tidwall/pretty"
)

const usage = `usage: kvs [-dir DIR] [-v] [-log-dir DIR] <command> [args]

commands:
  set KEY VALUE     set value of KEY
  get KEY           print value of KEY
  rm KEY            remove KEY
  compact           rewrite the log to one record per key
  stats [-json]     show store statistics
  backup PATH       write a backup, compressed if PATH ends with .gz, .zst or .br
  restore PATH      replace the store with a backup
  backups URL       list backups in object storage, URL is s3://bucket[/prefix]
  backup-rm URL     remove a backup from object storage

PATH can be s3://bucket/path, with credentials in KVS_S3_ENDPOINT,
KVS_S3_ACCESS, KVS_S3_SECRET, KVS_S3_REGION and KVS_S3_INSECURE
`

const msgKeyNotFound = "Key not found"

// errExit is returned by commands that already printed what the user needs to see
var errExit = errors.New("exit")

// usageError is a bad command line, reported together with usage
type usageError string

func (e usageError) Error() string {
	return string(e)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	var (
		flgDir    string
		flgLogDir string
	)
	flags := flag.NewFlagSet("kvs", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flags.StringVar(&flgDir, "dir", "", "directory of the store, current directory if empty")
	flags.BoolVar(&log.Verbose, "v", false, "verbose logging")
	flags.StringVar(&flgLogDir, "log-dir", "", "if set, also write logs to daily files in this directory")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 1
	}
	if flgDir == "" {
		flgDir = "."
	}
	if flgLogDir != "" {
		log.Init(&log.Config{Dir: flgLogDir})
		defer log.Close()
	}

	cmd, cmdArgs := flags.Arg(0), flags.Args()[1:]
	err := runCommand(flgDir, cmd, cmdArgs, stdout)
	if err == nil {
		return 0
	}
	var uerr usageError
	if errors.As(err, &uerr) {
		fmt.Fprintf(os.Stderr, "kvs %s: %s\n%s", cmd, uerr, usage)
		return 1
	}
	// failures only exit with 1, details are logged with -v
	if log.Verbose && !errors.Is(err, errExit) {
		log.IfErrf(err, "kvs %s: %s", cmd, err)
	}
	return 1
}

func needArgs(args []string, n int) error {
	if len(args) != n {
		return usageError(fmt.Sprintf("expected %d argument(s), got %d", n, len(args)))
	}
	return nil
}

func openStore(dir string) (*kvstore.Store, error) {
	s := &kvstore.Store{
		Dir:  dir,
		Logf: log.Verbosef,
	}
	if err := kvstore.OpenStore(s); err != nil {
		return nil, err
	}
	log.Verbosef("opened %s with %d keys\n", s.Path(), s.Len())
	return s, nil
}

func runCommand(dir string, cmd string, args []string, stdout io.Writer) error {
	switch cmd {
	case "restore":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		return restore(dir, args[0])
	case "backups":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		return listBackups(args[0], stdout)
	case "backup-rm":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		return removeBackup(args[0])
	case "set", "get", "rm", "compact", "stats", "backup":
		// all need an open store
	default:
		return usageError(fmt.Sprintf("unknown command '%s'", cmd))
	}

	s, err := openStore(dir)
	if err != nil {
		return err
	}
	err = storeCommand(s, cmd, args, stdout)
	return errors.Join(err, s.Close())
}

func storeCommand(s *kvstore.Store, cmd string, args []string, stdout io.Writer) error {
	switch cmd {
	case "set":
		if err := needArgs(args, 2); err != nil {
			return err
		}
		return s.Set(args[0], args[1])

	case "get":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		v, ok := s.Get(args[0])
		if !ok {
			fmt.Fprintln(stdout, msgKeyNotFound)
			return nil
		}
		fmt.Fprintln(stdout, v)
		return nil

	case "rm":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		_, err := s.Remove(args[0])
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			fmt.Fprintln(stdout, msgKeyNotFound)
			return errExit
		}
		return err

	case "compact":
		if err := needArgs(args, 0); err != nil {
			return err
		}
		before := s.Stats()
		if err := s.Compact(); err != nil {
			return err
		}
		after := s.Stats()
		fmt.Fprintf(stdout, "compacted %s => %s\n", humanize.Bytes(uint64(before.FileSize)), humanize.Bytes(uint64(after.FileSize)))
		return nil

	case "stats":
		flags := flag.NewFlagSet("stats", flag.ContinueOnError)
		flgJSON := flags.Bool("json", false, "print as json")
		if err := flags.Parse(args); err != nil {
			return usageError(err.Error())
		}
		return printStats(stdout, s, *flgJSON)

	case "backup":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		return backup(s, args[0])
	}
	return nil
}

func newRemote(ctx context.Context, uri string) (*minioutil.Client, string, error) {
	bucket, remotePath, err := minioutil.ParseURL(uri)
	if err != nil {
		return nil, "", err
	}
	mc, err := minioutil.New(ctx, minioutil.ConfigFromEnv(bucket))
	if err != nil {
		return nil, "", err
	}
	return mc, remotePath, nil
}

// tempBackupPath returns a local path for a remote backup, keeping the
// extension so that compression is preserved
func tempBackupPath(remotePath string) (string, error) {
	dir, err := os.MkdirTemp("", "kvs-backup-")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, path.Base(remotePath)), nil
}

func backup(s *kvstore.Store, dst string) error {
	if !minioutil.IsRemoteURL(dst) {
		return s.Backup(dst)
	}
	ctx := context.Background()
	mc, remotePath, err := newRemote(ctx, dst)
	if err != nil {
		return err
	}
	tmpPath, err := tempBackupPath(remotePath)
	if err != nil {
		return err
	}
	defer os.RemoveAll(filepath.Dir(tmpPath))
	if err = s.Backup(tmpPath); err != nil {
		return err
	}
	info, err := mc.UploadBackup(ctx, remotePath, tmpPath)
	if err != nil {
		return fmt.Errorf("upload to %s: %w", dst, err)
	}
	log.Verbosef("uploaded %s (%s)\n", dst, humanize.Bytes(uint64(info.Size)))
	return nil
}

func restore(dir string, src string) error {
	backupPath := src
	if minioutil.IsRemoteURL(src) {
		ctx := context.Background()
		mc, remotePath, err := newRemote(ctx, src)
		if err != nil {
			return err
		}
		backupPath, err = tempBackupPath(remotePath)
		if err != nil {
			return err
		}
		defer os.RemoveAll(filepath.Dir(backupPath))
		if err = mc.DownloadBackup(ctx, backupPath, remotePath); err != nil {
			return fmt.Errorf("download of %s: %w", src, err)
		}
	}
	if !u.FileExists(backupPath) {
		return fmt.Errorf("backup file '%s' doesn't exist", backupPath)
	}
	if err := kvstore.Restore(dir, backupPath); err != nil {
		return err
	}
	log.Verbosef("restored %s from %s\n", dir, src)
	return nil
}

func printStats(w io.Writer, s *kvstore.Store, asJSON bool) error {
	st := s.Stats()
	if asJSON {
		d, err := json.Marshal(st)
		if err != nil {
			return err
		}
		_, err = w.Write(pretty.Pretty(d))
		return err
	}
	fmt.Fprintf(w, "log:         %s\n", s.Path())
	fmt.Fprintf(w, "keys:        %s\n", humanize.Comma(int64(st.Keys)))
	fmt.Fprintf(w, "records:     %s\n", humanize.Comma(int64(st.Records)))
	fmt.Fprintf(w, "size:        %s\n", humanize.Bytes(uint64(st.FileSize)))
	fmt.Fprintf(w, "compactions: %d\n", st.Compactions)
	return nil
}

func listBackups(uri string, stdout io.Writer) error {
	bucket, prefix, err := minioutil.ParseBucketURL(uri)
	if err != nil {
		return usageError(err.Error())
	}
	ctx := context.Background()
	mc, err := minioutil.New(ctx, minioutil.ConfigFromEnv(bucket))
	if err != nil {
		return err
	}
	backups, err := mc.ListBackups(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %s: %w", uri, err)
	}
	printBackups(stdout, backups)
	return nil
}

func printBackups(w io.Writer, backups []minio.ObjectInfo) {
	for _, oi := range backups {
		fmt.Fprintf(w, "%s  %8s  %s\n", oi.LastModified.UTC().Format(time.DateTime), humanize.Bytes(uint64(oi.Size)), oi.Key)
	}
}

func removeBackup(uri string) error {
	if _, _, err := minioutil.ParseURL(uri); err != nil {
		return usageError(err.Error())
	}
	ctx := context.Background()
	mc, remotePath, err := newRemote(ctx, uri)
	if err != nil {
		return err
	}
	if err = mc.Remove(ctx, remotePath); err != nil {
		return fmt.Errorf("remove %s: %w", uri, err)
	}
	log.Verbosef("removed %s\n", uri)
	return nil
}
