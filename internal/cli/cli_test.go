package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/negotiate-network/negotiate/internal/daemon"
	"github.com/negotiate-network/negotiate/internal/domain"
	"github.com/negotiate-network/negotiate/internal/infra/sqlite"
)

func TestParseMapping(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.FieldMapping
		wantErr bool
	}{
		{"account_number=0", domain.FieldMapping{"account_number": 0}, false},
		{" account_number = 2 , email=5,", domain.FieldMapping{"account_number": 2, "email": 5}, false},
		{"email=1", nil, true},
		{"account_number", nil, true},
		{"account_number=x", nil, true},
		{"account_number=-1", nil, true},
	}
	for _, tt := range tests {
		got, err := parseMapping(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMapping(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("parseMapping(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("parseMapping(%q)[%s] = %d, want %d", tt.in, k, got[k], v)
			}
		}
	}
}

func TestImportCommand(t *testing.T) {
	home := t.TempDir()
	t.Setenv(daemon.HomeEnv, home)

	db, err := sqlite.Open(home)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertCompany(context.Background(), domain.Company{ID: "co-1", Name: "Acme"}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	file := filepath.Join(t.TempDir(), "accounts.csv")
	body := "Account,First,Last,DOB,SSN4,Balance\n" +
		"3001,Ann,Smith,1980-04-02,1234,250\n" +
		"3002,Bob,Jones,not-a-date,9876,80\n"
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"import", file,
		"--company", "co-1",
		"--mode", "add",
		"--mapping", "account_number=0,first_name=1,last_name=2,dob=3,last4ssn=4,current_balance=5",
		"--config", filepath.Join(home, "config.toml"),
		"--log-level", "error",
	})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"complete", "processed: 1", "failed:    1", "failed rows:"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestImportCommand_UnknownCompany(t *testing.T) {
	home := t.TempDir()
	t.Setenv(daemon.HomeEnv, home)
	file := filepath.Join(t.TempDir(), "accounts.csv")
	if err := os.WriteFile(file, []byte("Account\n1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetArgs([]string{
		"import", file,
		"--company", "nobody",
		"--mode", "add",
		"--mapping", "account_number=0",
		"--config", filepath.Join(home, "config.toml"),
		"--log-level", "error",
	})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	err := rootCmd.Execute()
	if !errors.Is(err, domain.ErrCompanyNotFound) {
		t.Errorf("Execute() error = %v, want ErrCompanyNotFound", err)
	}
}
