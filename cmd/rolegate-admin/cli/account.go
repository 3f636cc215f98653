package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rolegate/rolegate/internal/menu"
	"github.com/rolegate/rolegate/internal/platform/httpx"
	"github.com/rolegate/rolegate/internal/session"
)

// AccountCLI signs an operator in against the API and keeps the resulting
// identity in a local session store.
type AccountCLI struct {
	baseURL string
	client  *http.Client
	store   *session.Store
	items   []menu.Item
}

// NewAccountCLI wires the helper. A nil client uses a 10 second timeout.
func NewAccountCLI(baseURL string, client *http.Client, store *session.Store, items []menu.Item) *AccountCLI {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &AccountCLI{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		store:   store,
		items:   items,
	}
}

// LoginOptions configures the login command.
type LoginOptions struct {
	Output
	Email    string
	Password string
}

// LoginCommand exchanges credentials for an identity and stores it.
func (c *AccountCLI) LoginCommand(ctx context.Context, opts LoginOptions) int {
	out := opts.Output.withDefaults()
	if opts.Email == "" || opts.Password == "" {
		return out.fail("login", errors.New("--email and --password are required"))
	}
	user, err := c.login(ctx, opts.Email, opts.Password)
	if err != nil {
		return out.fail("login", err)
	}

	unsubscribe := c.store.Subscribe(func(s session.State) {
		if s.Authenticated() && !out.JSONOutput {
			fmt.Fprintf(out.Stdout, "signed in as %s\n", s.User.Email)
		}
	})
	defer unsubscribe()
	if err := c.store.SetUser(ctx, user); err != nil {
		return out.fail("login", err)
	}
	if out.JSONOutput {
		if err := out.write(user, nil); err != nil {
			return out.fail("login", err)
		}
	}
	return 0
}

func (c *AccountCLI) login(ctx context.Context, email, password string) (*session.User, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var problem httpx.ProblemDetail
		if err := json.NewDecoder(res.Body).Decode(&problem); err != nil || problem.Title == "" {
			return nil, fmt.Errorf("server returned %s", res.Status)
		}
		if problem.Detail != "" {
			return nil, fmt.Errorf("%s: %s", problem.Title, problem.Detail)
		}
		return nil, errors.New(problem.Title)
	}
	var user session.User
	if err := json.NewDecoder(res.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return &user, nil
}

// LogoutCommand forgets the stored identity.
func (c *AccountCLI) LogoutCommand(ctx context.Context, opts Output) int {
	out := opts.withDefaults()
	if err := c.store.Restore(ctx); err != nil {
		return out.fail("logout", err)
	}
	wasSignedIn := c.store.State().Authenticated()
	if err := c.store.ClearAuth(ctx); err != nil {
		return out.fail("logout", err)
	}
	if wasSignedIn && !out.JSONOutput {
		fmt.Fprintln(out.Stdout, "signed out")
	}
	return 0
}

// WhoamiCommand prints the stored identity. It exits 10 when nobody is
// signed in.
func (c *AccountCLI) WhoamiCommand(ctx context.Context, opts Output) int {
	out := opts.withDefaults()
	if err := c.store.Restore(ctx); err != nil {
		return out.fail("whoami", err)
	}
	state := c.store.State()
	if !state.Authenticated() {
		fmt.Fprintln(out.Stderr, "not signed in")
		return 10
	}
	user := state.User
	if err := out.write(user, func(w io.Writer) {
		fmt.Fprintf(w, "%s (id %s)\n", user.Email, user.UserID)
		fmt.Fprintf(w, "roles: %s\n", strings.Join(user.Roles, ", "))
		fmt.Fprintf(w, "permissions: %d\n", len(user.Permissions))
	}); err != nil {
		return out.fail("whoami", err)
	}
	return 0
}

// MenuCommand prints the navigation visible to the stored identity.
func (c *AccountCLI) MenuCommand(ctx context.Context, opts Output) int {
	out := opts.withDefaults()
	if err := c.store.Restore(ctx); err != nil {
		return out.fail("menu", err)
	}
	visible := menu.Filter(c.items, c.store.Principal())
	if err := out.write(visible, func(w io.Writer) {
		printMenu(w, visible, 0)
	}); err != nil {
		return out.fail("menu", err)
	}
	return 0
}

func printMenu(w io.Writer, items []menu.Item, depth int) {
	for _, item := range items {
		line := strings.Repeat("  ", depth) + item.Label
		if item.Path != "" {
			line += "  " + item.Path
		}
		fmt.Fprintln(w, line)
		printMenu(w, item.Children, depth+1)
	}
}
