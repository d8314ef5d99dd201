// Package fake provides an in-memory transports.Target that simulates the
// parts of a Linux host installer actions touch: a filesystem, the account
// database behind getent/useradd/groupadd, and arbitrary other commands,
// which are recorded and succeed.
package fake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/nixinstaller/pkg/command"
)

// Group is a simulated group database entry.
type Group struct {
	Name string
	GID  int
}

// User is a simulated passwd database entry.
type User struct {
	Name    string
	UID     int
	GID     int
	Comment string
	Home    string
	Shell   string
	Groups  []string
}

// Target is an in-memory host. It is safe for concurrent use.
type Target struct {
	mu      sync.Mutex
	nodes   map[string]*node
	groups  map[string]Group
	users   map[string]User
	calls   []Call
	failers []failer

	// Before, when set, runs ahead of every command. A non-nil error is
	// returned in place of running the command.
	Before func(ctx context.Context, cmd command.Command) error
}

// Call is one recorded operation.
type Call struct {
	Op       string
	Arg      string
	Mutating bool
}

// String renders the call as "op arg".
func (c Call) String() string { return c.Op + " " + c.Arg }

type failer struct {
	match  func(command.Command) bool
	code   int
	stderr string
}

// New returns an empty host with only "/" present.
func New() *Target {
	return &Target{
		nodes:  map[string]*node{"/": {mode: fs.ModeDir | 0o755}},
		groups: map[string]Group{},
		users:  map[string]User{},
	}
}

// Name implements transports.Target.
func (t *Target) Name() string { return "fake" }

// Close implements transports.Target.
func (t *Target) Close() error { return nil }

// AddGroup seeds the group database.
func (t *Target) AddGroup(g Group) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.groups[g.Name] = g
}

// AddUser seeds the passwd database.
func (t *Target) AddUser(u User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users[u.Name] = u
}

// LookupGroup returns the named group.
func (t *Target) LookupGroup(name string) (Group, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[name]
	return g, ok
}

// LookupUser returns the named user.
func (t *Target) LookupUser(name string) (User, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[name]
	return u, ok
}

// Users returns the names of all users, sorted.
func (t *Target) Users() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.users))
	for name := range t.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FailCommand makes every command matching match exit with code and stderr.
func (t *Target) FailCommand(match func(command.Command) bool, code int, stderr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failers = append(t.failers, failer{match: match, code: code, stderr: stderr})
}

// FailOn makes the program name fail whenever its last argument is subject.
// An empty subject matches every invocation of name.
func (t *Target) FailOn(name, subject string) {
	t.FailCommand(func(cmd command.Command) bool {
		if cmd.Name != name {
			return false
		}
		if subject == "" {
			return true
		}
		return len(cmd.Args) > 0 && cmd.Args[len(cmd.Args)-1] == subject
	}, 1, fmt.Sprintf("%s: injected failure", name))
}

// Calls returns every recorded operation in order.
func (t *Target) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// Mutations returns the recorded operations that changed host state.
func (t *Target) Mutations() []Call {
	var out []Call
	for _, c := range t.Calls() {
		if c.Mutating {
			out = append(out, c)
		}
	}
	return out
}

// Commands returns the rendered command lines run so far.
func (t *Target) Commands() []string {
	var out []string
	for _, c := range t.Calls() {
		if c.Op == "run" {
			out = append(out, c.Arg)
		}
	}
	return out
}

func (t *Target) record(op, arg string, mutating bool) {
	t.calls = append(t.calls, Call{Op: op, Arg: arg, Mutating: mutating})
}

// Run implements command.Runner.
func (t *Target) Run(ctx context.Context, cmd command.Command) (*command.Result, error) {
	if t.Before != nil {
		if err := t.Before(ctx, cmd); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.record("run", cmd.String(), !readOnly(cmd))

	for _, f := range t.failers {
		if f.match(cmd) {
			return t.exit(cmd, f.code, "", f.stderr)
		}
	}

	switch cmd.Name {
	case "getent":
		return t.getent(cmd)
	case "groupadd":
		return t.groupadd(cmd)
	case "groupdel":
		return t.groupdel(cmd)
	case "useradd":
		return t.useradd(cmd)
	case "userdel":
		return t.userdel(cmd)
	}
	return &command.Result{}, nil
}

func readOnly(cmd command.Command) bool {
	switch cmd.Name {
	case "getent", "id":
		return true
	case "systemctl":
		return len(cmd.Args) > 0 && (cmd.Args[0] == "is-enabled" || cmd.Args[0] == "is-active")
	}
	return false
}

func (t *Target) exit(cmd command.Command, code int, stdout, stderr string) (*command.Result, error) {
	res := &command.Result{Stdout: stdout, Stderr: stderr, ExitCode: code}
	if code == 0 {
		return res, nil
	}
	return res, command.NewExitError(cmd, res)
}

func (t *Target) getent(cmd command.Command) (*command.Result, error) {
	if len(cmd.Args) != 2 {
		return t.exit(cmd, 1, "", "getent: bad usage")
	}
	db, key := cmd.Args[0], cmd.Args[1]
	switch db {
	case "group":
		for _, g := range t.groups {
			if g.Name == key || strconv.Itoa(g.GID) == key {
				var members []string
				for _, u := range t.users {
					for _, name := range u.Groups {
						if name == g.Name {
							members = append(members, u.Name)
						}
					}
				}
				sort.Strings(members)
				return t.exit(cmd, 0, fmt.Sprintf("%s:x:%d:%s\n", g.Name, g.GID, strings.Join(members, ",")), "")
			}
		}
	case "passwd":
		for _, u := range t.users {
			if u.Name == key || strconv.Itoa(u.UID) == key {
				return t.exit(cmd, 0, fmt.Sprintf("%s:x:%d:%d:%s:%s:%s\n", u.Name, u.UID, u.GID, u.Comment, u.Home, u.Shell), "")
			}
		}
	default:
		return t.exit(cmd, 1, "", "getent: unknown database")
	}
	return t.exit(cmd, 2, "", "")
}

// parseFlags splits long-option arguments into a value map and positional
// arguments. Flags listed in boolFlags take no value.
func parseFlags(args []string, boolFlags ...string) (map[string]string, []string) {
	isBool := map[string]bool{}
	for _, f := range boolFlags {
		isBool[f] = true
	}
	flags := map[string]string{}
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positional = append(positional, arg)
			continue
		}
		if k, v, ok := strings.Cut(arg, "="); ok {
			flags[k] = v
			continue
		}
		if isBool[arg] || i+1 >= len(args) {
			flags[arg] = ""
			continue
		}
		flags[arg] = args[i+1]
		i++
	}
	return flags, positional
}

func (t *Target) groupadd(cmd command.Command) (*command.Result, error) {
	flags, pos := parseFlags(cmd.Args, "--system", "-r")
	if len(pos) != 1 {
		return t.exit(cmd, 2, "", "groupadd: bad usage")
	}
	name := pos[0]
	if _, ok := t.groups[name]; ok {
		return t.exit(cmd, 9, "", fmt.Sprintf("groupadd: group '%s' already exists", name))
	}
	gid, err := strconv.Atoi(flags["--gid"])
	if err != nil {
		return t.exit(cmd, 3, "", "groupadd: invalid group ID")
	}
	for _, g := range t.groups {
		if g.GID == gid {
			return t.exit(cmd, 4, "", fmt.Sprintf("groupadd: GID '%d' already exists", gid))
		}
	}
	t.groups[name] = Group{Name: name, GID: gid}
	return t.exit(cmd, 0, "", "")
}

func (t *Target) groupdel(cmd command.Command) (*command.Result, error) {
	if len(cmd.Args) != 1 {
		return t.exit(cmd, 2, "", "groupdel: bad usage")
	}
	name := cmd.Args[0]
	g, ok := t.groups[name]
	if !ok {
		return t.exit(cmd, 6, "", fmt.Sprintf("groupdel: group '%s' does not exist", name))
	}
	for _, u := range t.users {
		if u.GID == g.GID {
			return t.exit(cmd, 8, "", fmt.Sprintf("groupdel: cannot remove the primary group of user '%s'", u.Name))
		}
	}
	delete(t.groups, name)
	return t.exit(cmd, 0, "", "")
}

func (t *Target) useradd(cmd command.Command) (*command.Result, error) {
	flags, pos := parseFlags(cmd.Args, "--system", "--no-user-group", "--no-create-home", "-r", "-N", "-M")
	if len(pos) != 1 {
		return t.exit(cmd, 2, "", "useradd: bad usage")
	}
	name := pos[0]
	if _, ok := t.users[name]; ok {
		return t.exit(cmd, 9, "", fmt.Sprintf("useradd: user '%s' already exists", name))
	}
	uid, err := strconv.Atoi(flags["--uid"])
	if err != nil {
		return t.exit(cmd, 3, "", "useradd: invalid user ID")
	}
	for _, u := range t.users {
		if u.UID == uid {
			return t.exit(cmd, 4, "", fmt.Sprintf("useradd: UID %d is not unique", uid))
		}
	}
	gid, err := strconv.Atoi(flags["--gid"])
	if err != nil {
		return t.exit(cmd, 3, "", "useradd: invalid group ID")
	}
	found := false
	for _, g := range t.groups {
		if g.GID == gid {
			found = true
		}
	}
	if !found {
		return t.exit(cmd, 6, "", fmt.Sprintf("useradd: group '%d' does not exist", gid))
	}
	var groups []string
	if v := flags["--groups"]; v != "" {
		groups = strings.Split(v, ",")
	}
	t.users[name] = User{
		Name:    name,
		UID:     uid,
		GID:     gid,
		Comment: flags["--comment"],
		Home:    flags["--home-dir"],
		Shell:   flags["--shell"],
		Groups:  groups,
	}
	return t.exit(cmd, 0, "", "")
}

func (t *Target) userdel(cmd command.Command) (*command.Result, error) {
	if len(cmd.Args) != 1 {
		return t.exit(cmd, 2, "", "userdel: bad usage")
	}
	name := cmd.Args[0]
	if _, ok := t.users[name]; !ok {
		return t.exit(cmd, 6, "", fmt.Sprintf("userdel: user '%s' does not exist", name))
	}
	delete(t.users, name)
	return t.exit(cmd, 0, "", "")
}

type node struct {
	mode    fs.FileMode
	data    []byte
	link    string
	modTime time.Time
}

type fileInfo struct {
	name string
	n    *node
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return int64(len(fi.n.data)) }
func (fi fileInfo) Mode() fs.FileMode  { return fi.n.mode }
func (fi fileInfo) ModTime() time.Time { return fi.n.modTime }
func (fi fileInfo) IsDir() bool        { return fi.n.mode.IsDir() }
func (fi fileInfo) Sys() any           { return nil }

func clean(name string) string {
	return path.Clean("/" + name)
}

func pathErr(op, name string, err error) error {
	return &fs.PathError{Op: op, Path: name, Err: err}
}

// parentOK reports whether the parent directory of name exists.
func (t *Target) parentOK(name string) bool {
	parent, ok := t.nodes[path.Dir(name)]
	return ok && parent.mode.IsDir()
}

// Exists reports whether name is present, for assertions in tests.
func (t *Target) Exists(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.nodes[clean(name)]
	return ok
}

// File returns the content of a regular file, for assertions in tests.
func (t *Target) File(name string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[clean(name)]
	if !ok || !n.mode.IsRegular() {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Stat implements transports.Target.
func (t *Target) Stat(_ context.Context, name string) (fs.FileInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name = clean(name)
	t.record("stat", name, false)
	n, ok := t.nodes[name]
	if !ok {
		return nil, pathErr("stat", name, fs.ErrNotExist)
	}
	return fileInfo{name: path.Base(name), n: n}, nil
}

// Mkdir implements transports.Target.
func (t *Target) Mkdir(_ context.Context, name string, perm fs.FileMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	name = clean(name)
	t.record("mkdir", name, true)
	if _, ok := t.nodes[name]; ok {
		return pathErr("mkdir", name, fs.ErrExist)
	}
	if !t.parentOK(name) {
		return pathErr("mkdir", name, fs.ErrNotExist)
	}
	t.nodes[name] = &node{mode: fs.ModeDir | perm.Perm(), modTime: time.Now()}
	return nil
}

// MkdirAll implements transports.Target.
func (t *Target) MkdirAll(_ context.Context, name string, perm fs.FileMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	name = clean(name)
	t.record("mkdir-all", name, true)

	var missing []string
	for p := name; ; p = path.Dir(p) {
		n, ok := t.nodes[p]
		if ok {
			if !n.mode.IsDir() {
				return pathErr("mkdir", p, fs.ErrExist)
			}
			break
		}
		missing = append(missing, p)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		t.nodes[missing[i]] = &node{mode: fs.ModeDir | perm.Perm(), modTime: time.Now()}
	}
	return nil
}

// ReadFile implements transports.Target.
func (t *Target) ReadFile(_ context.Context, name string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name = clean(name)
	t.record("read", name, false)
	n, ok := t.nodes[name]
	if !ok {
		return nil, pathErr("open", name, fs.ErrNotExist)
	}
	if n.mode.IsDir() {
		return nil, pathErr("read", name, fs.ErrInvalid)
	}
	return append([]byte(nil), n.data...), nil
}

// WriteFile implements transports.Target.
func (t *Target) WriteFile(_ context.Context, name string, data []byte, perm fs.FileMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	name = clean(name)
	t.record("write", name, true)
	return t.writeLocked(name, data, perm)
}

func (t *Target) writeLocked(name string, data []byte, perm fs.FileMode) error {
	if n, ok := t.nodes[name]; ok && n.mode.IsDir() {
		return pathErr("open", name, fs.ErrExist)
	}
	if !t.parentOK(name) {
		return pathErr("open", name, fs.ErrNotExist)
	}
	t.nodes[name] = &node{mode: perm.Perm(), data: append([]byte(nil), data...), modTime: time.Now()}
	return nil
}

type writer struct {
	t    *Target
	name string
	perm fs.FileMode
	buf  bytes.Buffer
}

func (w *writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *writer) Close() error {
	w.t.mu.Lock()
	defer w.t.mu.Unlock()
	return w.t.writeLocked(w.name, w.buf.Bytes(), w.perm)
}

// Create implements transports.Target. Content becomes visible on Close.
func (t *Target) Create(_ context.Context, name string, perm fs.FileMode) (io.WriteCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name = clean(name)
	t.record("create", name, true)
	if !t.parentOK(name) {
		return nil, pathErr("open", name, fs.ErrNotExist)
	}
	return &writer{t: t, name: name, perm: perm}, nil
}

// Symlink implements transports.Target.
func (t *Target) Symlink(_ context.Context, oldname, newname string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	newname = clean(newname)
	t.record("symlink", newname+" -> "+oldname, true)
	if _, ok := t.nodes[newname]; ok {
		return &fs.PathError{Op: "symlink", Path: newname, Err: fs.ErrExist}
	}
	if !t.parentOK(newname) {
		return pathErr("symlink", newname, fs.ErrNotExist)
	}
	t.nodes[newname] = &node{mode: fs.ModeSymlink | 0o777, link: oldname, modTime: time.Now()}
	return nil
}

// Remove implements transports.Target.
func (t *Target) Remove(_ context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	name = clean(name)
	t.record("remove", name, true)
	n, ok := t.nodes[name]
	if !ok {
		return pathErr("remove", name, fs.ErrNotExist)
	}
	if n.mode.IsDir() && len(t.childrenLocked(name)) > 0 {
		return pathErr("remove", name, fmt.Errorf("directory not empty"))
	}
	delete(t.nodes, name)
	return nil
}

// RemoveAll implements transports.Target.
func (t *Target) RemoveAll(_ context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	name = clean(name)
	t.record("remove-all", name, true)
	for _, child := range t.childrenLocked(name) {
		delete(t.nodes, child)
	}
	if name != "/" {
		delete(t.nodes, name)
	}
	return nil
}

func (t *Target) childrenLocked(dir string) []string {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var out []string
	for p := range t.nodes {
		if p != dir && strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}
