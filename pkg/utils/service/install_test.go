package service

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func fakeSystemctl(t *testing.T, fail string) *[][]string {
	t.Helper()

	var calls [][]string
	orig := systemctl
	systemctl = func(args ...string) error {
		calls = append(calls, args)
		if len(args) > 0 && args[0] == fail {
			return errors.New("boom")
		}
		return nil
	}
	origDir := unitDir
	unitDir = t.TempDir()
	t.Cleanup(func() {
		systemctl = orig
		unitDir = origDir
	})
	return &calls
}

func TestUnit(t *testing.T) {
	u := Unit("/usr/local/bin/pvsweep", "/etc/pvsweep.json", "/var/run/pvsweep.sock")
	want := "ExecStart=/usr/local/bin/pvsweep daemon --config /etc/pvsweep.json --daemon-socket /var/run/pvsweep.sock\n"
	if !strings.Contains(u, want) {
		t.Errorf("unit misses %q:\n%s", want, u)
	}
	if strings.Contains(u, "{{") {
		t.Errorf("unit has unreplaced placeholders:\n%s", u)
	}
}

func TestUninstall(t *testing.T) {
	calls := fakeSystemctl(t, "")

	if err := os.WriteFile(filepath.Join(unitDir, unitName), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Uninstall(); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}
	if _, err := os.Stat(unitPath()); !os.IsNotExist(err) {
		t.Errorf("unit file still exists: %v", err)
	}

	want := [][]string{{"disable", "--now", unitName}, {"daemon-reload"}}
	if !reflect.DeepEqual(*calls, want) {
		t.Errorf("systemctl calls = %v, want %v", *calls, want)
	}
}

func TestUninstallNotInstalled(t *testing.T) {
	calls := fakeSystemctl(t, "")

	if err := Uninstall(); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}
	if len(*calls) != 1 {
		t.Errorf("systemctl calls = %v, want only disable", *calls)
	}
}

func TestUninstallStopFails(t *testing.T) {
	fakeSystemctl(t, "disable")

	if err := Uninstall(); err == nil || !strings.Contains(err.Error(), "Are you root?") {
		t.Errorf("Uninstall() error = %v", err)
	}
}

func TestInstall(t *testing.T) {
	calls := fakeSystemctl(t, "")

	if err := Install("/etc/pvsweep.json", "/var/run/pvsweep.sock"); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	b, err := os.ReadFile(unitPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), " daemon --config /etc/pvsweep.json --daemon-socket /var/run/pvsweep.sock") {
		t.Errorf("unexpected unit:\n%s", b)
	}

	want := [][]string{{"daemon-reload"}, {"enable", "--now", unitName}}
	if !reflect.DeepEqual(*calls, want) {
		t.Errorf("systemctl calls = %v, want %v", *calls, want)
	}
}
