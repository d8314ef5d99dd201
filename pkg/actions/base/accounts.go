package base

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/nixinstaller/pkg/command"
)

// getent exits 2 when the key is not present in the database.
const getentNotFound = 2

type account struct {
	Name string
	ID   int
	GID  int
}

// lookup queries an account database ("group" or "passwd") by name or id.
func lookup(ctx context.Context, r command.Runner, db, key string) (*account, error) {
	out, err := command.Output(ctx, r, command.New("getent", db, key))
	if err != nil {
		var exitErr *command.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode == getentNotFound {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}

	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Split(line, ":")
	if len(fields) < 3 {
		return nil, fmt.Errorf("malformed %s entry %q", db, line)
	}
	id, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("malformed %s entry %q: %w", db, line, err)
	}
	acct := &account{Name: fields[0], ID: id}
	if db == "passwd" {
		if len(fields) < 4 {
			return nil, fmt.Errorf("malformed %s entry %q", db, line)
		}
		if acct.GID, err = strconv.Atoi(fields[3]); err != nil {
			return nil, fmt.Errorf("malformed %s entry %q: %w", db, line, err)
		}
	}
	return acct, nil
}
