// Command landingzone provisions and tears down a multi-account cloud
// landing zone from a declared topology file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"landingzone/internal/assume"
	"landingzone/internal/cloudcontrol"
	"landingzone/internal/cloudcontrol/awscloud"
	"landingzone/internal/domain"
	"landingzone/internal/observability"
	"landingzone/internal/orgunit"
	"landingzone/internal/stack"
	"landingzone/internal/topology"
	"landingzone/internal/workflow"
)

const usageText = `usage: landingzone <command> [flags]

Workflow commands:
  launch          provision OUs, accounts, and stacks from a topology file
  cleanup         tear down everything a topology file describes

Single-shot commands:
  create-ou       ensure one organizational unit exists
  create-account  ensure one account exists and is placed in an OU
  deploy-stack    converge one stack in one account
  attach-scp      attach a service control policy to an OU or account
  list-accounts   list all open accounts in the organization

Run 'landingzone <command> -h' for command flags.
`

func main() {
	logger := observability.NewLogger(observability.ConfigFromEnv())

	sentryEnabled := initSentry(logger)
	if sentryEnabled {
		defer sentry.Flush(2 * time.Second)
	}

	metricsCfg := observability.MetricsConfigFromEnv()
	var metrics *observability.Metrics
	if metricsCfg.Enabled {
		metrics = observability.NewMetrics(metricsCfg)
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "launch":
		err = runWorkflow(ctx, logger, metrics, args, false)
	case "cleanup":
		err = runWorkflow(ctx, logger, metrics, args, true)
	case "create-ou":
		err = runCreateOU(ctx, logger, metrics, args)
	case "create-account":
		err = runCreateAccount(ctx, logger, metrics, args)
	case "deploy-stack":
		err = runDeployStack(ctx, logger, metrics, args)
	case "attach-scp":
		err = runAttachSCP(ctx, logger, metrics, args)
	case "list-accounts":
		err = runListAccounts(ctx, logger, metrics, args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usageText)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}
	if err != nil {
		if sentryEnabled {
			sentry.CaptureException(err)
		}
		logger.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// initSentry wires error reporting when SENTRY_DSN is set. Failures to
// initialize are logged and otherwise ignored.
func initSentry(logger observability.Logger) bool {
	dsn := os.Getenv("SENTRY_DSN")
	if dsn == "" {
		return false
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      envOr("SENTRY_ENVIRONMENT", "production"),
		Release:          envOr("APP_VERSION", "dev"),
		AttachStacktrace: true,
	})
	if err != nil {
		logger.Warn("sentry initialization failed", "error", err)
		return false
	}
	logger.Info("sentry initialized",
		"environment", envOr("SENTRY_ENVIRONMENT", "production"),
		"release", envOr("APP_VERSION", "dev"),
	)
	return true
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// retryConfigFromEnv builds the provider retry policy. Invalid values
// are logged and fall back to the defaults.
func retryConfigFromEnv(logger observability.Logger) cloudcontrol.RetryConfig {
	cfg := cloudcontrol.DefaultRetryConfig()
	if v := strings.TrimSpace(os.Getenv("LANDINGZONE_RATE_LIMIT_RPS")); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err != nil || parsed < 0 {
			logger.Warn("invalid LANDINGZONE_RATE_LIMIT_RPS; using default", "value", v)
		} else {
			cfg.RequestsPerSecond = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("LANDINGZONE_RATE_LIMIT_BURST")); v != "" {
		if parsed, err := strconv.Atoi(v); err != nil || parsed <= 0 {
			logger.Warn("invalid LANDINGZONE_RATE_LIMIT_BURST; using default", "value", v)
		} else {
			cfg.Burst = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("LANDINGZONE_MAX_TRANSIENT_TRIES")); v != "" {
		if parsed, err := strconv.Atoi(v); err != nil || parsed <= 0 {
			logger.Warn("invalid LANDINGZONE_MAX_TRANSIENT_TRIES; using default", "value", v)
		} else {
			cfg.MaxTransientTries = parsed
		}
	}
	return cfg
}

// newClient builds the retrying provider client for one region.
func newClient(ctx context.Context, region, templateDir string, logger observability.Logger, metrics *observability.Metrics) (cloudcontrol.Client, error) {
	cloud, err := awscloud.New(ctx, region, templateDir)
	if err != nil {
		return nil, err
	}
	return cloudcontrol.NewRetrying(cloud, retryConfigFromEnv(logger), logger, metrics), nil
}

func runWorkflow(ctx context.Context, logger observability.Logger, metrics *observability.Metrics, args []string, cleanup bool) error {
	name := "launch"
	if cleanup {
		name = "cleanup"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	topoPath := fs.String("topology", "configs/accounts.yaml", "topology file")
	templateDir := fs.String("templates", "templates", "stack template directory")
	concurrency := fs.Int("concurrency", 1, "account branches to run in parallel per OU")
	roleName := fs.String("role", assume.DefaultRoleName, "cross-account role to assume")
	if err := fs.Parse(args); err != nil {
		return err
	}

	topo, err := topology.Load(*topoPath)
	if err != nil {
		return err
	}

	client, err := newClient(ctx, topo.Region, *templateDir, logger, metrics)
	if err != nil {
		return err
	}
	clock := cloudcontrol.RealClock{}
	assumer := assume.New(client, clock, assume.Config{
		RoleName: *roleName,
		RunID:    shortID(),
	}, logger)
	deployer := stack.New(client, assumer, clock, stack.DefaultConfig(), logger)
	org := orgunit.New(client, clock, orgunit.DefaultConfig(), logger)

	store := selectLedger(logger)
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("ledger close failed", "error", cerr)
		}
	}()

	engine := workflow.New(org, deployer, store, workflow.Config{Concurrency: *concurrency}, logger, metrics)

	var report *workflow.Report
	if cleanup {
		report, err = engine.Cleanup(ctx, topo)
	} else {
		report, err = engine.Launch(ctx, topo)
	}
	if err != nil {
		return err
	}
	printReport(os.Stdout, report)
	if report.Status != domain.RunCompleted {
		return fmt.Errorf("run %s finished %s", report.RunID, report.Status)
	}
	return nil
}

func runCreateOU(ctx context.Context, logger observability.Logger, metrics *observability.Metrics, args []string) error {
	fs := flag.NewFlagSet("create-ou", flag.ExitOnError)
	name := fs.String("name", "", "organizational unit name (required)")
	parent := fs.String("parent", os.Getenv("LANDINGZONE_PARENT_ID"), "parent ID (defaults to the organization root)")
	region := fs.String("region", topology.DefaultRegion, "provider region")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("create-ou: -name is required")
	}

	org, err := newManager(ctx, *region, logger, metrics)
	if err != nil {
		return err
	}
	parentID := *parent
	if parentID == "" {
		if parentID, err = org.RootID(ctx); err != nil {
			return err
		}
	}
	ouID, err := org.EnsureOU(ctx, *name, parentID)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", ouID)
	return nil
}

func runCreateAccount(ctx context.Context, logger observability.Logger, metrics *observability.Metrics, args []string) error {
	fs := flag.NewFlagSet("create-account", flag.ExitOnError)
	name := fs.String("name", "", "account name (required)")
	email := fs.String("email", "", "account root email (required)")
	ouID := fs.String("ou", "", "destination OU ID (optional; account stays at the root when empty)")
	region := fs.String("region", topology.DefaultRegion, "provider region")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *email == "" {
		return fmt.Errorf("create-account: -name and -email are required")
	}

	org, err := newManager(ctx, *region, logger, metrics)
	if err != nil {
		return err
	}
	accountID, err := org.EnsureAccount(ctx, *name, *email, *ouID)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", accountID)
	return nil
}

func runDeployStack(ctx context.Context, logger observability.Logger, metrics *observability.Metrics, args []string) error {
	fs := flag.NewFlagSet("deploy-stack", flag.ExitOnError)
	accountID := fs.String("account", "", "target account ID (required)")
	role := fs.String("stack", "", "stack role, e.g. logging or security (required)")
	region := fs.String("region", topology.DefaultRegion, "provider region")
	templateDir := fs.String("templates", "templates", "stack template directory")
	roleName := fs.String("role", assume.DefaultRoleName, "cross-account role to assume")
	del := fs.Bool("delete", false, "delete the stack instead of converging it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *accountID == "" || *role == "" {
		return fmt.Errorf("deploy-stack: -account and -stack are required")
	}

	client, err := newClient(ctx, *region, *templateDir, logger, metrics)
	if err != nil {
		return err
	}
	clock := cloudcontrol.RealClock{}
	assumer := assume.New(client, clock, assume.Config{
		RoleName: *roleName,
		RunID:    shortID(),
	}, logger)
	deployer := stack.New(client, assumer, clock, stack.DefaultConfig(), logger)

	desired := domain.StatePresent
	if *del {
		desired = domain.StateAbsent
	}
	dep := domain.StackDeployment{
		AccountID:    *accountID,
		Region:       *region,
		StackName:    workflow.StackNamePrefix + *role,
		Template:     domain.TemplateRef{Source: *role + ".yaml"},
		DesiredState: desired,
	}
	res, err := deployer.Reconcile(ctx, dep)
	if err != nil {
		for _, ev := range res.Events {
			fmt.Fprintf(os.Stderr, "%s  %s  %s  %s\n", ev.Timestamp.Format(time.RFC3339), ev.LogicalID, ev.Status, ev.Reason)
		}
		return err
	}
	fmt.Printf("%s %s\n", dep.StackName, res.Outcome)
	return nil
}

func runAttachSCP(ctx context.Context, logger observability.Logger, metrics *observability.Metrics, args []string) error {
	fs := flag.NewFlagSet("attach-scp", flag.ExitOnError)
	policyID := fs.String("policy", "", "service control policy ID (required)")
	targetID := fs.String("target", "", "OU or account ID to attach to (required)")
	region := fs.String("region", topology.DefaultRegion, "provider region")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *policyID == "" || *targetID == "" {
		return fmt.Errorf("attach-scp: -policy and -target are required")
	}

	org, err := newManager(ctx, *region, logger, metrics)
	if err != nil {
		return err
	}
	return org.AttachPolicy(ctx, *policyID, *targetID)
}

func runListAccounts(ctx context.Context, logger observability.Logger, metrics *observability.Metrics, args []string) error {
	fs := flag.NewFlagSet("list-accounts", flag.ExitOnError)
	region := fs.String("region", topology.DefaultRegion, "provider region")
	if err := fs.Parse(args); err != nil {
		return err
	}

	org, err := newManager(ctx, *region, logger, metrics)
	if err != nil {
		return err
	}
	accounts, err := org.ListAccounts(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL")
	for _, a := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.ID, a.Name, a.Email)
	}
	return w.Flush()
}

// newManager builds an orgunit.Manager for the single-shot commands,
// which never touch stacks and need no template directory.
func newManager(ctx context.Context, region string, logger observability.Logger, metrics *observability.Metrics) (*orgunit.Manager, error) {
	client, err := newClient(ctx, region, "", logger, metrics)
	if err != nil {
		return nil, err
	}
	return orgunit.New(client, cloudcontrol.RealClock{}, orgunit.DefaultConfig(), logger), nil
}

// shortID returns a compact run identifier for role session names.
func shortID() string {
	return uuid.NewString()[:8]
}

// printReport renders a run summary: one line per step, then totals.
func printReport(w io.Writer, r *workflow.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	var done, failed, skipped int
	for _, s := range r.Steps {
		note := ""
		switch {
		case s.Skipped:
			note = "(already done)"
			skipped++
		case s.Status == domain.StepFailed:
			note = s.Diagnostic
			failed++
		default:
			done++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Status, s.Key, note)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nrun %s: %s (%d done, %d skipped, %d failed) in %s\n",
		r.RunID, r.Status, done, skipped, failed, r.Finished.Sub(r.Started).Round(time.Second))
}
