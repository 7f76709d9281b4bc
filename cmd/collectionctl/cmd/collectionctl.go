// Package cmd implements the collectionctl command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/pkg/config"
	"github.com/goliatone/go-collection-cache/pkg/di"
)

// Version is set at build time
var Version = "dev"

// Entity is any record of a remote collection. Its "id" member is the
// cache identifier.
type Entity map[string]any

// CacheID implements cache.Item.
func (e Entity) CacheID() string {
	switch id := e["id"].(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}

// Read is one line of output.
type Read struct {
	Read      int      `json:"read"`
	FromCache bool     `json:"fromCache"`
	Page      int      `json:"page,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Total     int      `json:"total,omitempty"`
	Pages     int      `json:"pages,omitempty"`
	Items     []Entity `json:"items,omitempty"`
	Item      Entity   `json:"item,omitempty"`
}

// Execute runs the CLI with the given arguments and IO writers and returns
// the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewCollectionCtl(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", cache.Message(err))
		return 1
	}
	return 0
}

// NewCollectionCtl creates the root command with injectable IO.
func NewCollectionCtl(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "collectionctl",
		Short:         "Read remote collections through the collection cache",
		Long:          "collectionctl loads a configuration, builds the collection cache and prints pages or entities as JSON.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	cmd.PersistentFlags().String("base-url", "", "API base URL, overrides transport.base_url")
	cmd.PersistentFlags().String("log-level", "", "Log level, overrides log.level")

	cmd.AddCommand(newPageCmd(stdout, stderr))
	cmd.AddCommand(newGetCmd(stdout, stderr))
	cmd.AddCommand(newEnumsCmd(stdout, stderr))
	return cmd
}

// container loads the config named by the persistent flags and builds a
// container writing logs to stderr.
func container(cmd *cobra.Command, stderr io.Writer) (*di.Container, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if baseURL, _ := cmd.Flags().GetString("base-url"); baseURL != "" {
		cfg.Transport.BaseURL = baseURL
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	cfg.Log.Output = stderr
	cfg.Log.Format = "console"

	return di.NewContainer(cfg)
}

func newPageCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "page [collection]",
		Short: "Print a page of a collection",
		Long:  "Fetch one page of a collection. With --repeat the page is read several times so cache hits are visible.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			q, err := queryFromFlags(cmd)
			if err != nil {
				return err
			}

			c, err := container(cmd, stderr)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			if last, _ := cmd.Flags().GetBool("last"); last {
				if q, err = lastQuery(ctx, c, name, q); err != nil {
					return err
				}
			}

			coll, _, err := di.NewCollection[Entity](c, name)
			if err != nil {
				return err
			}

			repeat, _ := cmd.Flags().GetInt("repeat")
			force, _ := cmd.Flags().GetBool("force")
			enc := json.NewEncoder(stdout)
			for i := 1; i <= max(repeat, 1); i++ {
				page, err := coll.FetchPage(ctx, q, force)
				if err != nil {
					return err
				}
				if err := enc.Encode(Read{
					Read:      i,
					FromCache: page.FromCache,
					Page:      page.Page,
					Limit:     page.Limit,
					Total:     page.Total,
					Pages:     page.Pages,
					Items:     page.Items,
				}); err != nil {
					return err
				}
			}

			if save, _ := cmd.Flags().GetBool("save"); save {
				state, err := c.State()
				if err != nil {
					return err
				}
				return state.Save(ctx, name, q)
			}
			return nil
		},
	}

	cmd.Flags().Int("page", 1, "Page number, starting at 1")
	cmd.Flags().Int("limit", 0, "Page size, defaults to default_limit")
	cmd.Flags().String("sort", "", "Sort field")
	cmd.Flags().String("dir", "asc", "Sort direction: asc or desc")
	cmd.Flags().StringArray("filter", nil, "Filter as key=value; repeat a key to match any of several values")
	cmd.Flags().Int("repeat", 1, "Read the page this many times")
	cmd.Flags().Bool("force", false, "Bypass the cache")
	cmd.Flags().Bool("save", false, "Persist the query as the last one of the collection")
	cmd.Flags().Bool("last", false, "Start from the last saved query of the collection")
	return cmd
}

func newGetCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [collection] [id]",
		Short: "Print one entity of a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := container(cmd, stderr)
			if err != nil {
				return err
			}
			defer c.Close()

			coll, _, err := di.NewCollection[Entity](c, args[0])
			if err != nil {
				return err
			}

			repeat, _ := cmd.Flags().GetInt("repeat")
			force, _ := cmd.Flags().GetBool("force")
			enc := json.NewEncoder(stdout)
			for i := 1; i <= max(repeat, 1); i++ {
				_, cached := coll.PeekDetail(args[1])
				item, err := coll.FetchByID(cmd.Context(), args[1], force)
				if err != nil {
					return err
				}
				if err := enc.Encode(Read{Read: i, FromCache: cached && !force, Item: item}); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().Int("repeat", 1, "Read the entity this many times")
	cmd.Flags().Bool("force", false, "Bypass the cache")
	return cmd
}

func newEnumsCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "enums",
		Short: "Print the enum settings groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := container(cmd, stderr)
			if err != nil {
				return err
			}
			defer c.Close()

			enums, err := c.Enums()
			if err != nil {
				return err
			}
			groups, err := enums.FetchGroups(cmd.Context(), false)
			if err != nil {
				return err
			}
			return json.NewEncoder(stdout).Encode(groups)
		},
	}
}

func queryFromFlags(cmd *cobra.Command) (cache.Query, error) {
	page, _ := cmd.Flags().GetInt("page")
	limit, _ := cmd.Flags().GetInt("limit")
	sortBy, _ := cmd.Flags().GetString("sort")
	dir, _ := cmd.Flags().GetString("dir")
	filters, _ := cmd.Flags().GetStringArray("filter")

	q := cache.Query{Page: page, Limit: limit, SortBy: sortBy}
	switch strings.ToLower(dir) {
	case "", "asc":
		q.SortDir = cache.SortAsc
	case "desc":
		q.SortDir = cache.SortDesc
	default:
		return cache.Query{}, fmt.Errorf("invalid --dir %q: want asc or desc", dir)
	}

	parsed, err := parseFilters(filters)
	if err != nil {
		return cache.Query{}, err
	}
	q.Filters = parsed
	return q, nil
}

// parseFilters turns ["status=active", "city=Lisbon", "city=Porto"] into
// {"status": "active", "city": ["Lisbon", "Porto"]}.
func parseFilters(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(raw))
	for _, f := range raw {
		key, value, ok := strings.Cut(f, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --filter %q: want key=value", f)
		}
		switch prev := out[key].(type) {
		case nil:
			out[key] = value
		case string:
			out[key] = []string{prev, value}
		case []string:
			out[key] = append(prev, value)
		}
	}
	return out, nil
}

// lastQuery merges the saved query of name under the flags that were set
// explicitly.
func lastQuery(ctx context.Context, c *di.Container, name string, flags cache.Query) (cache.Query, error) {
	state, err := c.State()
	if err != nil {
		return cache.Query{}, err
	}
	saved, ok, err := state.Load(ctx, name)
	if err != nil || !ok {
		return flags, err
	}
	if flags.Filters != nil {
		saved.Filters = flags.Filters
	}
	if flags.SortBy != "" {
		saved.SortBy, saved.SortDir = flags.SortBy, flags.SortDir
	}
	if flags.Limit > 0 {
		saved.Limit = flags.Limit
	}
	if flags.Page > 1 {
		saved.Page = flags.Page
	}
	return saved, nil
}
