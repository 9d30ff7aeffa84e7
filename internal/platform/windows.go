// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package platform

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

// WindowsEnv carries the environment the Windows variant derives its
// defaults from.
type WindowsEnv struct {
	Home        string
	ProgramData string
	SystemRoot  string
	Temp        string
}

type windows struct {
	env WindowsEnv
}

// Windows returns the Windows variant for the given environment.
func Windows(env WindowsEnv) Platform {
	return &windows{env: env}
}

func (w *windows) Name() string { return "windows" }

func (w *windows) ConfigDir() (string, error) {
	if w.env.ProgramData == "" {
		return "", errors.New("cannot locate configuration directory: PROGRAMDATA is unset")
	}
	return filepath.Join(w.env.ProgramData, AppName), nil
}

func (w *windows) DefaultIncludes() []string {
	return []string{toSlash(w.env.Home)}
}

func (w *windows) DefaultExcludes() []string {
	list := []string{
		"**/pagefile.sys",
		"**/NTUSER.DAT*",
		"**/desktop.ini",
		"**/ntuser.ini",
		"**/Thumbs.db",
		"**/Default.rdp",
		"**/ntuser.dat*",
		"C:/Recovery/",
		"C:/ProgramData/",
		"C:/$Recycle.Bin/",
	}
	if w.env.SystemRoot != "" {
		list = append(list, toSlash(w.env.SystemRoot))
	}
	if w.env.Temp != "" {
		list = append(list, toSlash(w.env.Temp))
	}
	home := toSlash(w.env.Home)
	for _, dir := range []string{"AppData", "Tracing", "Recent", "PrintHood", "NetHood", "Searches"} {
		list = append(list, path.Join(home, dir)+"/")
	}
	return append(list, path.Join(home, "Downloads")+"/")
}

func (w *windows) IdentityFile() string { return PuttyKeyFile }

func (w *windows) WritesPEM() bool { return false }

// TightenPermissions is a no-op: the files live under PROGRAMDATA whose ACL
// is managed by the installer.
func (w *windows) TightenPermissions(paths ...string) error { return nil }

func (w *windows) LineSeparator() string { return "\r\n" }

// toSlash converts Windows separators regardless of the host OS, so the
// variant renders the same patterns when exercised from tests on Linux.
func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
