/*
Package atomicfile replaces a file in a way that never leaves a half-written
destination behind, even if we crash in the middle.

Data is written to a temporary file in the destination directory. Close()
syncs it, renames it over the destination and syncs the directory. Any
error along the way removes the temporary file and leaves the destination
as it was.

kvstore uses it to rewrite the log during compaction and to write backups:

	f, err := atomicfile.New(path)
	if err != nil {
		return err
	}
	// a no-op after Close()
	defer f.Abort()

	if _, err = f.Write(data); err != nil {
		return err
	}
	return f.Close()

On Windows a file can't be renamed over while someone has it open, so close
other handles to the destination before calling Close().
*/
package atomicfile
