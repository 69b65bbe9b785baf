// Copyright 2026 The etcd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fileutil holds the atomic file helpers shared by the remote
// artifact store and the local partition cache.
package fileutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.etcd.io/etcd/client/pkg/v3/fileutil"
	"go.uber.org/multierr"
)

// TmpExt marks staging files. Readers never list them.
const TmpExt = ".tmp"

// WriteAtomic writes data to dir/name so that readers observe either the
// previous file or the complete new one. The data is staged in a temporary
// file, fsynced, renamed over the target and the directory is fsynced.
func WriteAtomic(dir, name string, data []byte) (err error) {
	f, err := os.CreateTemp(dir, name+".*"+TmpExt)
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = fileutil.Fsync(f); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp, fileutil.PrivateFileMode); err != nil {
		return err
	}
	if err = os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		return err
	}
	return syncDir(dir)
}

// ReadDirExt lists the names in dir with extension ext, sorted. A missing
// directory lists as empty.
func ReadDirExt(dir, ext string) ([]string, error) {
	names, err := fileutil.ReadDir(dir, fileutil.WithExt(ext))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return names, err
}

// PurgeStale removes staging files left in dir by interrupted writes.
func PurgeStale(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var errs error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), TmpExt) {
			continue
		}
		errs = multierr.Append(errs, os.Remove(filepath.Join(dir, e.Name())))
	}
	return errs
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return fileutil.Fsync(d)
}
