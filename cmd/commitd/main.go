// main.go - commitd, the operator tool for the private pool commitment state.
//
// Commands:
//
//	commitd serve                      host the accumulator, its change feed and /health
//	commitd active --token USDC        list the active commitments of a token
//	commitd await --commitment <hex>   block until a commitment is finalized
//	commitd insert --commitment <hex>  append a leaf to the served accumulator
//	commitd status                     run health checks
//	commitd seed                       generate a new seed
//
// Configuration comes from commitd.json (created with defaults on first run),
// then .env, then COMMITD_* environment variables.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"privpool/internal/accumulator"
	"privpool/internal/commitment"
	"privpool/internal/feed"
	"privpool/internal/history"
	"privpool/internal/manager"
	"privpool/internal/metrics"
	"privpool/internal/seed"
	"privpool/internal/tokentype"
	"privpool/internal/transactions"
)

const version = "0.1.0"

type app struct {
	configPath string
	envFile    string

	cfg     *Config
	log     zerolog.Logger
	closer  io.Closer
	metrics *metrics.Collector
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{metrics: metrics.New()}
	root := &cobra.Command{
		Use:           "commitd",
		Short:         "Commitment state manager for the private pool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closer != nil {
				return a.closer.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "commitd.json", "path to the JSON config file")
	root.PersistentFlags().StringVar(&a.envFile, "env", ".env", "optional dotenv file")

	root.AddCommand(
		a.serveCmd(),
		a.activeCmd(),
		a.awaitCmd(),
		a.insertCmd(),
		a.statusCmd(),
		a.seedCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := LoadConfig(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger, closer, err := NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	a.closer = closer
	return nil
}

func (a *app) seed() (*seed.Seed, error) {
	if a.cfg.Seed == "" {
		return nil, fmt.Errorf("no seed configured, set %s", EnvSeed)
	}
	return seed.FromHex(a.cfg.Seed)
}

func (a *app) remoteTree() *accumulator.Remote {
	return accumulator.NewRemote(a.cfg.TreeURL, &http.Client{Timeout: 30 * time.Second})
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the accumulator, its change feed and health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			hub := feed.NewHub(feed.WithLogger(a.log.With().Str("component", "feed").Logger()))
			defer hub.Close()

			tree, err := accumulator.Open(a.cfg.TreePath,
				accumulator.WithHeight(a.cfg.TreeHeight),
				accumulator.WithChunkSize(a.cfg.ChunkSize),
				accumulator.WithPublisher(hub, a.cfg.StorageAccount),
				accumulator.WithLogger(a.log.With().Str("component", "accumulator").Logger()),
			)
			if err != nil {
				return err
			}
			defer tree.Close()

			hc := NewHealthChecker(version)
			hc.RegisterComponent("tree", func(ctx context.Context) error {
				_, err := tree.StorageAccount(ctx)
				return err
			})

			mux := http.NewServeMux()
			var treeHandler http.Handler = http.StripPrefix("/tree", tree.Handler())
			if a.cfg.RateLimitBurst > 0 && a.cfg.RateLimitPerSecond > 0 {
				limiter := NewClientRateLimiter(a.cfg.RateLimitBurst, a.cfg.RateLimitPerSecond, time.Second)
				treeHandler = limiter.Middleware(treeHandler)
			}
			mux.Handle("/tree/", treeHandler)
			mux.Handle("/feed", hub)
			mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
				health := hc.CheckHealth(r.Context())
				w.Header().Set("Content-Type", "application/json")
				if health.OverallStatus == Unhealthy {
					w.WriteHeader(http.StatusServiceUnavailable)
				}
				json.NewEncoder(w).Encode(health)
			})

			srv := &http.Server{Addr: a.cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			a.log.Info().
				Str("addr", a.cfg.ListenAddr).
				Str("account", a.cfg.StorageAccount).
				Uint64("leaves", tree.Len()).
				Str("root", tree.Root().String()).
				Msg("serving accumulator")

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			// Close the hub first so websocket forwarders return.
			hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.log.Info().Msg("shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func (a *app) activeCmd() *cobra.Command {
	var token string
	var beforeNonce uint64
	cmd := &cobra.Command{
		Use:   "active",
		Short: "List the active commitments of a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenType, err := tokentype.Parse(token)
			if err != nil {
				return err
			}
			s, err := a.seed()
			if err != nil {
				return err
			}
			ledger, err := history.LoadOrCreate(a.cfg.LedgerPath)
			if err != nil {
				return fmt.Errorf("failed to load ledger: %w", err)
			}

			var before *transactions.Send
			if cmd.Flags().Changed("before-nonce") {
				before, err = findSend(ledger, tokenType, beforeNonce)
				if err != nil {
					return err
				}
			}

			m := manager.New(ledger, a.remoteTree(),
				manager.WithLogger(a.log),
				manager.WithMetrics(a.metrics),
				manager.WithConcurrency(a.cfg.MaxConcurrency),
			)
			active, err := m.ActiveCommitments(cmd.Context(), tokenType, s, before)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, c := range active.Items() {
				fmt.Fprintf(out, "%d\t%s\t%s\n", c.LeafIndex(), c.Balance(), c.Hash())
			}
			merge, err := manager.NeedsMerge(active)
			if err != nil {
				return err
			}
			if merge {
				a.metrics.RecordMergeSignal()
				fmt.Fprintf(out, "%d active commitments: merge before the next send\n", active.Len())
			}
			a.log.Debug().Interface("metrics", a.metrics.GetMetricsSummary()).Msg("done")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", string(tokentype.Lamports), "token symbol")
	cmd.Flags().Uint64Var(&beforeNonce, "before-nonce", 0, "only consider history before the send with this nonce")
	return cmd
}

// findSend returns the send of tokenType with the given nonce.
func findSend(ledger *history.Ledger, tokenType tokentype.TokenType, nonce uint64) (*transactions.Send, error) {
	for _, tx := range ledger.Transactions(tokenType) {
		if tx.Header().Nonce != nonce {
			continue
		}
		send, ok := tx.(*transactions.Send)
		if !ok {
			return nil, fmt.Errorf("transaction %d is a %s, not a send", nonce, tx.Kind())
		}
		return send, nil
	}
	return nil, fmt.Errorf("no %s send with nonce %d", tokenType, nonce)
}

func (a *app) awaitCmd() *cobra.Command {
	var hexHash string
	var start uint64
	cmd := &cobra.Command{
		Use:   "await",
		Short: "Block until a commitment is finalized in the accumulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := commitment.HashFromHex(hexHash)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			if timeout := a.cfg.AwaitTimeout(); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			client, err := feed.Dial(ctx, a.cfg.FeedURL, feed.WithLogger(a.log))
			if err != nil {
				return err
			}
			defer client.Close()

			remote := a.remoteTree()
			m := manager.New(history.NewLedger(), remote,
				manager.WithLogger(a.log),
				manager.WithMetrics(a.metrics),
				manager.WithFeed(client, remote, a.cfg.StorageAccount),
			)
			index, err := m.WaitForLeaf(ctx, hash, start)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", index)
			return nil
		},
	}
	cmd.Flags().StringVar(&hexHash, "commitment", "", "commitment hash (hex)")
	cmd.Flags().Uint64Var(&start, "start", 0, "tree start index of the transaction")
	cmd.MarkFlagRequired("commitment")
	return cmd
}

func (a *app) insertCmd() *cobra.Command {
	var hexHash string
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Append a leaf to the served accumulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := commitment.HashFromHex(hexHash)
			if err != nil {
				return err
			}
			index, err := a.remoteTree().Insert(cmd.Context(), hash)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", index)
			return nil
		},
	}
	cmd.Flags().StringVar(&hexHash, "commitment", "", "commitment hash (hex)")
	cmd.MarkFlagRequired("commitment")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the ledger, the accumulator and the change feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			hc := a.healthChecker()
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			health := hc.CheckHealth(ctx)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(health); err != nil {
				return err
			}
			if health.OverallStatus == Unhealthy {
				return errors.New("system is unhealthy")
			}
			return nil
		},
	}
}

func (a *app) healthChecker() *HealthChecker {
	hc := NewHealthChecker(version)
	hc.RegisterComponent("ledger", func(ctx context.Context) error {
		_, err := history.LoadOrCreate(a.cfg.LedgerPath)
		return err
	})
	hc.RegisterComponent("tree", func(ctx context.Context) error {
		acc, err := a.remoteTree().StorageAccount(ctx)
		if err != nil {
			return err
		}
		if int(acc.Height) != a.cfg.TreeHeight || acc.ChunkSize != a.cfg.ChunkSize {
			return fmt.Errorf("%w: served height %d chunk %d", accumulator.ErrLayoutMismatch, acc.Height, acc.ChunkSize)
		}
		return nil
	})
	hc.RegisterOptional("feed", func(ctx context.Context) error {
		client, err := feed.Dial(ctx, a.cfg.FeedURL)
		if err != nil {
			return err
		}
		return client.Close()
	})
	return hc
}

func (a *app) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Generate a new random seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, raw, err := seed.Generate()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", EnvSeed, hex.EncodeToString(raw))
			return nil
		},
	}
}
