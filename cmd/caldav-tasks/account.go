package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/caldav-tasks/internal/remote"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
	"github.com/mschirtzinger/caldav-tasks/internal/ui"
)

var accountCmd = &cobra.Command{
	Use:     "account",
	GroupID: "data",
	Short:   "Manage CalDAV accounts",
}

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an account",
	Long: `Add a CalDAV account. Calendars are discovered on the next sync.

Missing fields are asked for interactively when running in a terminal.

Example usage:
  caldav-tasks account add --name Work --url https://dav.example.com --username me
  caldav-tasks account add --name Local --type file --url file:///home/me/calendars`,
	Run: func(cmd *cobra.Command, args []string) {
		in := accountInput{}
		in.Name, _ = cmd.Flags().GetString("name")
		in.URL, _ = cmd.Flags().GetString("url")
		in.Username, _ = cmd.Flags().GetString("username")
		in.Password, _ = cmd.Flags().GetString("password")
		in.Type, _ = cmd.Flags().GetString("type")

		if (in.Name == "" || in.URL == "") && term.IsTerminal(int(os.Stdin.Fd())) {
			if err := promptAccount(&in); err != nil {
				fatal("%v", err)
			}
		}

		account, err := in.account()
		if err != nil {
			fatal("%v", err)
		}

		a := openApp()
		defer a.close()
		if err := a.db.CreateAccount(context.Background(), account); err != nil {
			fatal("saving account: %v", err)
		}

		fmt.Printf("%s Added account %s %s\n", ui.RenderPass("✓"), ui.RenderBold(account.Name), ui.RenderMuted(ui.ShortID(account.ID)))
		fmt.Println("   Run 'caldav-tasks sync' to fetch its calendars")
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts and their calendars",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		ctx := context.Background()

		accounts, err := a.db.GetAllAccounts(ctx)
		if err != nil {
			fatal("listing accounts: %v", err)
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts")
			return
		}
		active := ""
		if st, err := a.db.GetUIState(ctx); err == nil {
			active = st.ActiveCalendarID
		}
		for _, acc := range accounts {
			fmt.Printf("%s ", ui.RenderMuted(ui.ShortID(acc.ID)))
			fmt.Println(ui.AccountBlock(acc, active))
		}
	},
}

var accountImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Add accounts from a YAML file",
	Long: `Add every account listed in a YAML file.

Format:
  accounts:
    - name: Work
      url: https://dav.example.com/remote.php/dav
      username: me
      password: secret
      type: nextcloud`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			fatal("%v", err)
		}
		accounts, err := parseAccounts(data)
		if err != nil {
			fatal("%v", err)
		}

		a := openApp()
		defer a.close()
		ctx := context.Background()
		for _, acc := range accounts {
			if err := a.db.CreateAccount(ctx, acc); err != nil {
				fatal("saving account %q: %v", acc.Name, err)
			}
			fmt.Printf("%s Added %s\n", ui.RenderPass("✓"), acc.Name)
		}
		fmt.Printf("\nImported %d account(s)\n", len(accounts))
	},
}

var accountRemoveCmd = &cobra.Command{
	Use:   "remove ACCOUNT",
	Short: "Remove an account and its local tasks",
	Long: `Remove an account by name or id prefix. Tasks on the server are not touched.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		ctx := context.Background()

		acc, err := findAccount(ctx, a, args[0])
		if err != nil {
			fatal("%v", err)
		}
		for _, cal := range acc.Calendars {
			list, err := a.db.GetTasksByCalendar(ctx, cal.ID)
			if err != nil {
				fatal("listing tasks: %v", err)
			}
			for _, t := range list {
				if err := a.db.DeleteTask(ctx, t.ID); err != nil {
					fatal("deleting task: %v", err)
				}
			}
		}
		if err := a.db.DeleteAccount(ctx, acc.ID); err != nil {
			fatal("removing account: %v", err)
		}
		fmt.Printf("%s Removed account %s\n", ui.RenderPass("✓"), acc.Name)
	},
}

// accountInput is the user-facing shape of an account, shared by flags,
// the interactive form and YAML import.
type accountInput struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Type     string `yaml:"type"`
}

func (in accountInput) account() (*types.Account, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errors.New("account name is required")
	}
	url := strings.TrimSpace(in.URL)
	if url == "" {
		return nil, fmt.Errorf("server url is required for account %q", name)
	}
	st := types.ServerType(strings.ToLower(strings.TrimSpace(in.Type)))
	if st == "" {
		st = defaultServerType()
	}
	switch st {
	case types.ServerGeneric, types.ServerNextcloud, types.ServerRadicale, types.ServerBaikal, types.ServerFile:
	default:
		return nil, fmt.Errorf("unknown server type %q for account %q", in.Type, name)
	}
	if !remote.IsRegistered(st) {
		return nil, fmt.Errorf("server type %q has no backend in this build (available: %s)", st, availableTypes())
	}
	return &types.Account{
		ID:         uuid.NewString(),
		Name:       name,
		ServerURL:  url,
		Username:   in.Username,
		Password:   in.Password,
		ServerType: st,
		IsActive:   true,
		Calendars:  []types.Calendar{},
	}, nil
}

type accountFile struct {
	Accounts []accountInput `yaml:"accounts"`
}

// parseAccounts reads the import format. Every entry must be valid.
func parseAccounts(data []byte) ([]*types.Account, error) {
	var f accountFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	if len(f.Accounts) == 0 {
		return nil, errors.New("no accounts found in YAML")
	}
	out := make([]*types.Account, 0, len(f.Accounts))
	for i, in := range f.Accounts {
		acc, err := in.account()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		out = append(out, acc)
	}
	return out, nil
}

// defaultServerType is generic CalDAV when that backend is built in,
// otherwise the first registered type.
func defaultServerType() types.ServerType {
	registered := remote.RegisteredTypes()
	if len(registered) == 0 || slices.Contains(registered, types.ServerGeneric) {
		return types.ServerGeneric
	}
	return registered[0]
}

func availableTypes() string {
	registered := remote.RegisteredTypes()
	if len(registered) == 0 {
		return "none"
	}
	names := make([]string, len(registered))
	for i, t := range registered {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

var serverTypeLabels = []struct {
	label string
	typ   types.ServerType
}{
	{"Generic CalDAV", types.ServerGeneric},
	{"Nextcloud", types.ServerNextcloud},
	{"Radicale", types.ServerRadicale},
	{"Baikal", types.ServerBaikal},
	{"Local directory", types.ServerFile},
}

// serverTypeOptions lists the types this build can sync.
func serverTypeOptions() []huh.Option[string] {
	var opts []huh.Option[string]
	for _, l := range serverTypeLabels {
		if remote.IsRegistered(l.typ) {
			opts = append(opts, huh.NewOption(l.label, string(l.typ)))
		}
	}
	return opts
}

func promptAccount(in *accountInput) error {
	if in.Type == "" {
		in.Type = string(defaultServerType())
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Account name").Value(&in.Name).Validate(required("name")),
			huh.NewSelect[string]().Title("Server type").Options(serverTypeOptions()...).Value(&in.Type),
			huh.NewInput().Title("Server URL").Value(&in.URL).Validate(required("url")),
		),
		huh.NewGroup(
			huh.NewInput().Title("Username").Value(&in.Username),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&in.Password),
		).WithHideFunc(func() bool { return in.Type == string(types.ServerFile) }),
	)
	return form.Run()
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

// findAccount matches by exact name (ignoring case) or unique id prefix.
func findAccount(ctx context.Context, a *app, key string) (*types.Account, error) {
	accounts, err := a.db.GetAllAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return matchAccount(accounts, key)
}

func matchAccount(accounts []*types.Account, key string) (*types.Account, error) {
	var matches []*types.Account
	for _, acc := range accounts {
		if strings.EqualFold(acc.Name, key) || acc.ID == key {
			return acc, nil
		}
		if key != "" && strings.HasPrefix(acc.ID, key) {
			matches = append(matches, acc)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("account %q not found", key)
	case 1:
		return matches[0], nil
	}
	return nil, fmt.Errorf("account %q is ambiguous (%d matches)", key, len(matches))
}

func init() {
	accountAddCmd.Flags().String("name", "", "Account name")
	accountAddCmd.Flags().String("url", "", "Server URL")
	accountAddCmd.Flags().String("username", "", "Username")
	accountAddCmd.Flags().String("password", "", "Password")
	accountAddCmd.Flags().String("type", "", "Server type: generic, nextcloud, radicale, baikal, file (default: generic, or the first one built in)")

	accountCmd.AddCommand(accountAddCmd, accountListCmd, accountImportCmd, accountRemoveCmd)
	rootCmd.AddCommand(accountCmd)
}
