package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/imattau/nostr-community-conventions/internal/config"
	"github.com/imattau/nostr-community-conventions/internal/db"
	"github.com/imattau/nostr-community-conventions/internal/domain"
	"github.com/imattau/nostr-community-conventions/internal/engine"
	"github.com/imattau/nostr-community-conventions/internal/migrate"
	"github.com/imattau/nostr-community-conventions/internal/payload"
	"github.com/imattau/nostr-community-conventions/internal/queue"
	"github.com/imattau/nostr-community-conventions/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ncc",
	Short: "Steward tool for Nostr Community Conventions",
	Long: `ncc drafts, revises and publishes Nostr Community Convention documents
(kind 30050) and steward succession records (kind 30051).

Drafts live in a local SQLite store. Publishing signs the current revision
and sends it to the configured relays; failed publishes land in a durable
queue that retries with backoff until delivery or abandonment.`,
}

var manager *queue.Manager

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("NCC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("store", "s", "", "path to the SQLite store (default ~/.config/ncc/ncc.db)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("store", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(successionCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(logCmd())
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage steward configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configSetCmd())
	cmd.AddCommand(configImportCmd())
	cmd.AddCommand(configExportCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the store with default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg, err := e.InitConfig(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Initialized store at %s\n", e.StorePath)
				return printConfig(cfg)
			})
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show stored configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg, err := e.LoadConfig(ctx)
				if err != nil {
					return err
				}
				return printConfig(cfg)
			})
		},
	}
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <field> <value>",
		Short: "Set one configuration field",
		Long: `Fields: privkey, relays (comma separated), and tag defaults under tags.:
tags.summary, tags.topics, tags.lang, tags.version, tags.supersedes,
tags.license, tags.authors, tags.steward, tags.previous, tags.reason,
tags.effective_at. List fields take comma separated values.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg, err := e.LoadConfig(ctx)
				if err != nil {
					return err
				}
				if err := setConfigField(cfg, args[0], args[1]); err != nil {
					return err
				}
				if err := e.ImportConfig(ctx, cfg); err != nil {
					return err
				}
				fmt.Printf("Set %s\n", args[0])
				return nil
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Replace configuration from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg, err := config.FromFile(args[0])
				if err != nil {
					return err
				}
				if err := e.ImportConfig(ctx, cfg); err != nil {
					return err
				}
				fmt.Printf("Imported configuration from %s\n", args[0])
				return nil
			})
		},
	}
}

func configExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg, err := e.LoadConfig(ctx)
				if err != nil {
					return err
				}
				data, err := cfg.ToYAML()
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Print(string(data))
					return nil
				}
				if err := os.WriteFile(out, data, 0o600); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	return cmd
}

func setConfigField(cfg *config.Config, field, value string) error {
	switch field {
	case "privkey":
		cfg.Privkey = value
	case "relays":
		cfg.Relays = splitCSV(value)
	case "tags.summary":
		cfg.Tags.Summary = value
	case "tags.topics":
		cfg.Tags.Topics = splitCSV(value)
	case "tags.lang":
		cfg.Tags.Lang = value
	case "tags.version":
		cfg.Tags.Version = value
	case "tags.supersedes":
		cfg.Tags.Supersedes = splitCSV(value)
	case "tags.license":
		cfg.Tags.License = value
	case "tags.authors":
		cfg.Tags.Authors = splitCSV(value)
	case "tags.steward":
		cfg.Tags.Steward = value
	case "tags.previous":
		cfg.Tags.Previous = value
	case "tags.reason":
		cfg.Tags.Reason = value
	case "tags.effective_at":
		cfg.Tags.EffectiveAt = value
	default:
		return fmt.Errorf("unknown config field %q", field)
	}
	return nil
}

func printConfig(cfg *config.Config) error {
	if viper.GetBool("json") {
		return printJSON(cfg)
	}
	data, err := cfg.ToYAML()
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

// --- documents ---

func documentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "document", Short: "Manage convention documents (kind 30050)"}
	cmd.AddCommand(documentCreateCmd())
	cmd.AddCommand(documentReviseCmd())
	cmd.AddCommand(documentListCmd())
	cmd.AddCommand(documentShowCmd())
	cmd.AddCommand(exportCmd(domain.KindDocument))
	cmd.AddCommand(importCmd())
	return cmd
}

type documentFlags struct {
	title      string
	content    string
	file       string
	summary    string
	topics     []string
	lang       string
	version    string
	supersedes []string
	license    string
	authors    []string
}

func (f *documentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "document title")
	cmd.Flags().StringVar(&f.content, "content", "", "markdown content")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "read content from file")
	cmd.Flags().StringVar(&f.summary, "summary", "", "summary tag")
	cmd.Flags().StringSliceVar(&f.topics, "topic", nil, "topic tag, repeatable")
	cmd.Flags().StringVar(&f.lang, "lang", "", "language tag")
	cmd.Flags().StringVar(&f.version, "version", "", "version tag")
	cmd.Flags().StringSliceVar(&f.supersedes, "supersedes", nil, "superseded identifier, repeatable")
	cmd.Flags().StringVar(&f.license, "license", "", "license tag")
	cmd.Flags().StringSliceVar(&f.authors, "author", nil, "author npub or hex pubkey, repeatable")
}

func (f *documentFlags) options(d string) (engine.DocumentOptions, error) {
	content := f.content
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return engine.DocumentOptions{}, err
		}
		content = string(data)
	}
	return engine.DocumentOptions{
		D:       d,
		Title:   f.title,
		Content: content,
		DocumentInputs: payload.DocumentInputs{
			Summary:    f.summary,
			Topics:     f.topics,
			Lang:       f.lang,
			Version:    f.version,
			Supersedes: f.supersedes,
			License:    f.license,
			Authors:    f.authors,
		},
	}, nil
}

func documentCreateCmd() *cobra.Command {
	var f documentFlags
	cmd := &cobra.Command{
		Use:   "create <d>",
		Short: "Create a document draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts, err := f.options(args[0])
				if err != nil {
					return err
				}
				draft, err := e.CreateDocument(ctx, opts)
				if err != nil {
					return err
				}
				fmt.Printf("Created document draft %s (id %d)\n", draft.D, draft.ID)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func documentReviseCmd() *cobra.Command {
	var f documentFlags
	cmd := &cobra.Command{
		Use:   "revise <d>",
		Short: "Update a document draft in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts, err := f.options(args[0])
				if err != nil {
					return err
				}
				draft, err := e.ReviseDocument(ctx, opts)
				if err != nil {
					return err
				}
				fmt.Printf("Revised document %s\n", draft.D)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func documentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List document drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				drafts, err := e.Drafts(ctx, domain.KindDocument)
				if err != nil {
					return err
				}
				return printDrafts(drafts)
			})
		},
	}
}

func documentShowCmd() *cobra.Command {
	return showCmd(domain.KindDocument, "document")
}

// --- successions ---

func successionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "succession", Short: "Manage steward succession records (kind 30051)"}
	cmd.AddCommand(successionCreateCmd())
	cmd.AddCommand(successionReviseCmd())
	cmd.AddCommand(successionListCmd())
	cmd.AddCommand(showCmd(domain.KindSuccession, "succession"))
	cmd.AddCommand(exportCmd(domain.KindSuccession))
	cmd.AddCommand(importCmd())
	return cmd
}

type successionFlags struct {
	content       string
	authoritative string
	steward       string
	previous      string
	reason        string
	effectiveAt   string
}

func (f *successionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.content, "content", "", "record content")
	cmd.Flags().StringVar(&f.authoritative, "authoritative", "", "event id of the authoritative document")
	cmd.Flags().StringVar(&f.steward, "steward", "", "incoming steward npub")
	cmd.Flags().StringVar(&f.previous, "previous", "", "event id of the previous succession record")
	cmd.Flags().StringVar(&f.reason, "reason", "", "reason for the succession")
	cmd.Flags().StringVar(&f.effectiveAt, "effective-at", "", "effective date")
}

func (f *successionFlags) options(d string) engine.SuccessionOptions {
	return engine.SuccessionOptions{
		D:       d,
		Content: f.content,
		SuccessionInputs: payload.SuccessionInputs{
			AuthoritativeEvent: f.authoritative,
			Steward:            f.steward,
			Previous:           f.previous,
			Reason:             f.reason,
			EffectiveAt:        f.effectiveAt,
		},
	}
}

func successionCreateCmd() *cobra.Command {
	var f successionFlags
	cmd := &cobra.Command{
		Use:   "create <d>",
		Short: "Create a succession draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				draft, err := e.CreateSuccession(ctx, f.options(args[0]))
				if err != nil {
					return err
				}
				fmt.Printf("Created succession draft %s (id %d)\n", draft.D, draft.ID)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func successionReviseCmd() *cobra.Command {
	var f successionFlags
	cmd := &cobra.Command{
		Use:   "revise <d>",
		Short: "Update a succession draft in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				draft, err := e.ReviseSuccession(ctx, f.options(args[0]))
				if err != nil {
					return err
				}
				fmt.Printf("Revised succession %s\n", draft.D)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func successionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List succession drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				drafts, err := e.Drafts(ctx, domain.KindSuccession)
				if err != nil {
					return err
				}
				return printDrafts(drafts)
			})
		},
	}
}

// --- shared draft commands ---

func showCmd(kind domain.Kind, noun string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <d>",
		Short: "Show the current revision of a " + noun,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				draft, tags, err := e.Show(ctx, kind, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(struct {
						domain.Draft
						Tags []domain.Tag `json:"tags"`
					}{draft, tags})
				}
				fmt.Printf("%s (kind %d, %s)\n", draft.D, draft.Kind, draft.Status)
				if draft.Title != "" {
					fmt.Printf("Title: %s\n", draft.Title)
				}
				if draft.EventID != nil {
					fmt.Printf("Event: %s\n", *draft.EventID)
				}
				for _, t := range tags {
					fmt.Printf("  %s: %s\n", t.Key, t.Value)
				}
				if draft.Content != "" {
					fmt.Printf("\n%s\n", draft.Content)
				}
				return nil
			})
		},
	}
}

func exportCmd(kind domain.Kind) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <d>",
		Short: "Export the current revision as payload JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				msg, err := e.ExportMessage(ctx, kind, args[0])
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(msg, "", "  ")
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Println(string(data))
					return nil
				}
				if err := os.WriteFile(out, append(data, '\n'), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import a payload JSON file as the current draft revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				draft, err := e.ImportMessage(ctx, data)
				if err != nil {
					return err
				}
				fmt.Printf("Imported %s (kind %d, id %d)\n", draft.D, draft.Kind, draft.ID)
				return nil
			})
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				drafts, err := e.Drafts(ctx, 0)
				if err != nil {
					return err
				}
				return printDrafts(drafts)
			})
		},
	}
}

// --- publish ---

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "publish", Short: "Sign and send payloads to relays"}
	cmd.AddCommand(publishDraftCmd(domain.KindDocument, "document"))
	cmd.AddCommand(publishDraftCmd(domain.KindSuccession, "succession"))
	cmd.AddCommand(publishFileCmd())
	cmd.AddCommand(publishPayloadCmd())
	return cmd
}

func publishDraftCmd(kind domain.Kind, noun string) *cobra.Command {
	var relays []string
	cmd := &cobra.Command{
		Use:   noun + " <d>",
		Short: "Publish the current " + noun + " revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Publish(ctx, engine.PublishOptions{Kind: kind, D: args[0], Relays: relays})
				if err != nil {
					return err
				}
				return reportPublish(res)
			})
		},
	}
	cmd.Flags().StringSliceVar(&relays, "relay", nil, "relay URL, repeatable (default: configured relays)")
	return cmd
}

func publishFileCmd() *cobra.Command {
	var relays []string
	cmd := &cobra.Command{
		Use:   "file <payload.json>",
		Short: "Publish a previously exported payload file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Publish(ctx, engine.PublishOptions{JSONPath: args[0], Relays: relays})
				if err != nil {
					return err
				}
				return reportPublish(res)
			})
		},
	}
	cmd.Flags().StringSliceVar(&relays, "relay", nil, "relay URL, repeatable (default: configured relays)")
	return cmd
}

func publishPayloadCmd() *cobra.Command {
	var relays []string
	cmd := &cobra.Command{
		Use:   "payload [file]",
		Short: "Publish an ad-hoc payload JSON once, without storing a draft",
		Long: `Reads a payload JSON document from the given file, or from stdin when no
file (or "-") is given, and publishes it as-is. On relay failure the payload
is queued verbatim; unlike publish file, the source is never rewritten.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					data []byte
					err  error
				)
				if len(args) == 0 || args[0] == "-" {
					data, err = io.ReadAll(cmd.InOrStdin())
				} else {
					data, err = os.ReadFile(args[0])
				}
				if err != nil {
					return err
				}
				res, err := e.Publish(ctx, engine.PublishOptions{Payload: data, Relays: relays})
				if err != nil {
					return err
				}
				return reportPublish(res)
			})
		},
	}
	cmd.Flags().StringSliceVar(&relays, "relay", nil, "relay URL, repeatable (default: configured relays)")
	return cmd
}

func reportPublish(res engine.PublishResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	if res.Queued {
		fmt.Printf("Relays unreachable; queued as task %s for retry\n", res.TaskID)
		return nil
	}
	fmt.Printf("Published event %s\n", res.EventID)
	return nil
}

// --- queue ---

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Inspect and drive the publish queue"}
	cmd.AddCommand(queueListCmd())
	cmd.AddCommand(queueRunCmd())
	cmd.AddCommand(queueWorkerCmd())
	return cmd
}

func queueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending publish tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Kind", "Attempts", "Next Attempt", "Last Error"})
				for _, t := range tasks {
					lastErr := ""
					if t.LastError != nil {
						lastErr = *t.LastError
					}
					tw.AppendRow(table.Row{
						t.TaskID,
						t.Kind,
						fmt.Sprintf("%d/%d", t.Attempts, t.MaxAttempts),
						time.Unix(t.NextAttemptAt, 0).Format(time.RFC3339),
						lastErr,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func queueRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Attempt every due task once, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				e.Queue.Register(e.StorePath, e.Repo)
				n := 0
				for {
					dispatched, err := e.Queue.DispatchOnce(ctx, e.StorePath)
					if err != nil {
						return err
					}
					if !dispatched {
						break
					}
					n++
				}
				fmt.Printf("Dispatched %d task(s)\n", n)
				return nil
			})
		},
	}
}

func queueWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the retry worker until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				e.Queue.Register(e.StorePath, e.Repo)
				e.Queue.Start(ctx)
				fmt.Printf("Watching publish queue in %s (poll every %s, ctrl-c to stop)\n", e.StorePath, queue.PollInterval)
				<-ctx.Done()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent store activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Audit().Tail(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Type", "Kind", "D", "Detail"})
				for _, entry := range entries {
					detail := ""
					if len(entry.Detail) > 0 {
						b, _ := json.Marshal(entry.Detail)
						detail = string(b)
					}
					tw.AppendRow(table.Row{
						time.Unix(entry.TS, 0).Format(time.RFC3339),
						entry.Type,
						int(entry.Kind),
						entry.D,
						detail,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only HTTP view of the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				e.Queue.Register(e.StorePath, e.Repo)
				e.Queue.Start(ctx)
				handler := server.New(server.Config{Engine: e, BasePath: basePath})
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	store := db.Resolve(viper.GetString("store"))
	conn, err := db.Open(db.Config{Store: store})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	if manager == nil {
		manager = queue.New(nil)
		manager.Notify = func(msg string) { fmt.Fprintln(os.Stderr, msg) }
	}
	e := engine.New(conn, store, manager)
	return fn(ctx, e)
}

func printDrafts(drafts []domain.Draft) error {
	if viper.GetBool("json") {
		return printJSON(drafts)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Kind", "D", "Title", "Status", "Updated", "Event"})
	for _, d := range drafts {
		eventID := ""
		if d.EventID != nil {
			eventID = *d.EventID
		}
		tw.AppendRow(table.Row{
			d.ID,
			int(d.Kind),
			d.D,
			d.Title,
			d.Status,
			time.Unix(d.UpdatedAt, 0).Format(time.RFC3339),
			eventID,
		})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
