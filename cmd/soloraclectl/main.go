// Command soloraclectl derives oracle accounts, inspects on-chain state and
// submits queries to a running soloracled.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"SolOracle-Chain/internal/chain"
	"SolOracle-Chain/internal/chain/provider"
	"SolOracle-Chain/internal/chain/solana"
	"SolOracle-Chain/internal/config"
	"SolOracle-Chain/internal/oracle"
	"SolOracle-Chain/internal/pda"
	"SolOracle-Chain/internal/vault"
	"SolOracle-Chain/pkg/logger"
	"SolOracle-Chain/sdk/go/soloracle"
)

const usage = `usage: soloraclectl <command> [flags]

commands:
  derive   derive a program address from seeds (offline)
  plan     resolve the oracle account set for a maker
  agent    show the agent account state for a maker
  vault    inspect the vault program and optionally check a transfer
  status   show the cluster slot and version
  ask      submit a query to soloracled and optionally wait for the answer

seed notation: utf8:agent hex:0a0b pubkey:<base58> u8:1 u16:2 u32:7 u64:9
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "soloraclectl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}
	_ = logger.Init(logger.Config{Level: "warn", Format: "text", OutputPaths: []string{"stderr"}})

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "derive":
		return runDerive(rest, out)
	case "plan":
		return runPlan(ctx, rest, out, false)
	case "agent":
		return runPlan(ctx, rest, out, true)
	case "vault":
		return runVault(ctx, rest, out)
	case "status":
		return runStatus(ctx, rest, out)
	case "ask":
		return runAsk(ctx, rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// clusterFlags are shared by commands that read chain state.
type clusterFlags struct {
	configPath string
	rpcURL     string
	cluster    string
	offline    bool
}

func (c *clusterFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", config.Path(), "daemon configuration file")
	fs.StringVar(&c.rpcURL, "rpc", "", "cluster JSON-RPC endpoint, overrides the configuration")
	fs.StringVar(&c.cluster, "cluster", "", "named cluster from the cluster definitions")
	fs.BoolVar(&c.offline, "offline", false, "treat every account as absent and skip the cluster")
}

func (c *clusterFlags) loadConfig() *config.Config {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return config.Default()
	}
	return cfg
}

// reader returns an account reader and a release function.
func (c *clusterFlags) reader(ctx context.Context, cfg *config.Config) (chain.Client, func(), error) {
	if c.offline {
		return nil, func() {}, nil
	}
	if c.rpcURL != "" {
		client, err := solana.NewClient(ctx, solana.Config{
			Name:           "cli",
			RPCURL:         c.rpcURL,
			Commitment:     cfg.Solana.Commitment,
			RequestTimeout: cfg.Solana.RequestTimeout(),
		})
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
	registry, err := provider.NewRegistry(ctx, cfg.Solana)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (use -rpc or -offline)", err)
	}
	if c.cluster != "" {
		client, ok := registry.Client(c.cluster)
		if !ok {
			registry.Close()
			return nil, nil, fmt.Errorf("cluster %q is not defined, known: %s", c.cluster, strings.Join(registry.Clusters(), ", "))
		}
		return client, registry.Close, nil
	}
	client, err := registry.DefaultClient()
	if err != nil {
		registry.Close()
		return nil, nil, err
	}
	return client, registry.Close, nil
}

func runDerive(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("derive", flag.ContinueOnError)
	program := fs.String("program", config.DefaultOracleProgram, "owning program id (base58)")
	bump := fs.Int("bump", -1, "verify a specific bump instead of searching")
	if err := fs.Parse(args); err != nil {
		return err
	}
	programID, err := pda.ParseAddress(*program)
	if err != nil {
		return err
	}
	seeds, err := pda.ParseSeeds(fs.Args())
	if err != nil {
		return err
	}
	if *bump >= 0 {
		if *bump > 255 {
			return fmt.Errorf("bump %d is out of range", *bump)
		}
		addr, err := pda.CreateAddress(programID, uint8(*bump), seeds...)
		if err != nil {
			return err
		}
		return printJSON(out, pda.Derived{Address: addr, Bump: uint8(*bump)})
	}
	derived, err := pda.Derive(programID, seeds...)
	if err != nil {
		return err
	}
	return printJSON(out, derived)
}

func runPlan(ctx context.Context, args []string, out io.Writer, agentOnly bool) error {
	name := "plan"
	if agentOnly {
		name = "agent"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var cf clusterFlags
	cf.register(fs)
	maker := fs.String("maker", "", "maker public key (base58)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	makerAddr, err := pda.ParseAddress(*maker)
	if err != nil {
		return err
	}
	cfg := cf.loadConfig()
	programs, err := oracle.ProgramsFromConfig(cfg.Programs)
	if err != nil {
		return err
	}
	plan := oracle.NewPlan(programs, pda.Deriver{})

	client, release, err := cf.reader(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	var reader oracle.AccountReader = offlineReader{}
	if client != nil {
		reader = client
	}
	resolution, err := oracle.Resolve(ctx, reader, plan, makerAddr)
	if err != nil {
		return err
	}
	if !agentOnly {
		return printJSON(out, resolution)
	}
	if resolution.AgentState == nil {
		return fmt.Errorf("agent account %s is not initialised", resolution.Agent)
	}
	return printJSON(out, struct {
		Agent pda.Address          `json:"agent"`
		State *oracle.AgentAccount `json:"state"`
	}{resolution.Agent, resolution.AgentState})
}

func runVault(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("vault", flag.ContinueOnError)
	var cf clusterFlags
	cf.register(fs)
	owner := fs.String("owner", "", "token owner to check against the whitelist")
	amount := fs.Uint64("amount", 0, "transfer amount to check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg := cf.loadConfig()
	programID, err := pda.ParseAddress(cfg.Programs.Vault)
	if err != nil {
		return err
	}

	client, release, err := cf.reader(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	var reader vault.AccountReader = offlineReader{}
	if client != nil {
		reader = client
	}
	report, err := vault.Inspect(ctx, reader, vault.Program{ID: programID})
	if err != nil {
		return err
	}
	if err := printJSON(out, report); err != nil {
		return err
	}
	if *owner == "" {
		return nil
	}
	ownerAddr, err := pda.ParseAddress(*owner)
	if err != nil {
		return err
	}
	if report.Config == nil {
		return errors.New("vault config account does not exist")
	}
	if err := report.Config.CheckTransfer(report.ConfigAddress, ownerAddr, *amount); err != nil {
		return err
	}
	fmt.Fprintf(out, "transfer of %d by %s is allowed\n", *amount, ownerAddr)
	return nil
}

func runStatus(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	var cf clusterFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cf.offline {
		return errors.New("status needs a cluster")
	}
	client, release, err := cf.reader(ctx, cf.loadConfig())
	if err != nil {
		return err
	}
	defer release()
	snapshot, err := client.Snapshot(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, snapshot)
}

func runAsk(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8080", "soloracled base URL")
	prompt := fs.String("prompt", "", "query prompt")
	system := fs.String("system", "", "system prompt used when the agent is first initialised")
	maker := fs.String("maker", "", "maker override, only honoured for dry runs")
	dryRun := fs.Bool("dry-run", false, "derive accounts without sending transactions")
	wait := fs.Duration("wait", 0, "wait up to this long for the query to finish")
	token := fs.String("token", os.Getenv("SOLORACLE_TOKEN"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := soloracle.NewClient(*apiURL, nil)
	if err != nil {
		return err
	}
	client = client.WithToken(*token)
	query, err := client.SubmitQuery(ctx, soloracle.QueryRequest{
		SystemPrompt: *system,
		Prompt:       *prompt,
		DryRun:       *dryRun,
		Maker:        *maker,
	})
	if err != nil {
		return err
	}
	if *wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, *wait)
		defer cancel()
		query, err = client.WaitForQuery(waitCtx, query.ID, time.Second)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return printJSON(out, query)
}

// offlineReader reports every account as absent.
type offlineReader struct{}

func (offlineReader) AccountInfo(context.Context, pda.Address) (*chain.Account, error) {
	return nil, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
