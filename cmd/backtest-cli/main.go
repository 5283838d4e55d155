package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"

	"backtester/internal/api"
	"backtester/internal/backtest"
	"backtester/internal/config"
	"backtester/internal/domain"
	"backtester/internal/quotes"
	"backtester/internal/report"
	"backtester/internal/store"
	"backtester/internal/strategy"
	"backtester/internal/util"
	"backtester/pkg/client"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: backtest-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version      Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  indicators   List indicator types\n")
	fmt.Fprintf(os.Stderr, "  run          Run a scenario file locally or against a server\n")
	fmt.Fprintf(os.Stderr, "  scenarios    List scenarios saved on a server\n")
	fmt.Fprintf(os.Stderr, "\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("backtest-cli %s\n", version)
	case "indicators":
		err = listIndicators()
	case "run":
		err = run(ctx, os.Args[2:])
	case "scenarios":
		err = listScenarios(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func listIndicators() error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tLABEL\tVALUE1")
	for _, c := range strategy.Catalog() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Type, c.Label, c.Value1Label)
	}
	return tw.Flush()
}

// loadScenario reads a YAML scenario file. A missing file path yields the
// default scenario.
func loadScenario(path string) (domain.Scenario, error) {
	if path == "" {
		return domain.DefaultScenario(time.Now()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Scenario{}, err
	}
	var sc domain.Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return domain.Scenario{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return sc, nil
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	scenarioPath := fs.String("scenario", "", "YAML scenario file (default: the built-in default scenario)")
	quotesPath := fs.String("quotes", "", "CSV of daily closes to use instead of the configured provider")
	csvOut := fs.Bool("csv", false, "write the trade ledger as CSV instead of a summary")
	server := fs.String("server", "", "run on a backtest-server at this HTTP base URL")
	grpcAddr := fs.String("grpc", "", "run on a backtest-server at this gRPC address")
	fs.Parse(args)

	sc, err := loadScenario(*scenarioPath)
	if err != nil {
		return err
	}

	var res *backtest.Result
	switch {
	case *grpcAddr != "":
		res, err = runGRPC(ctx, *grpcAddr, sc)
	case *server != "":
		return runRemote(ctx, *server, sc)
	default:
		res, err = runLocal(ctx, sc, *quotesPath)
	}
	if err != nil {
		return err
	}
	if *csvOut {
		return report.WriteCSV(os.Stdout, res)
	}
	return report.WriteSummary(os.Stdout, res)
}

func runLocal(ctx context.Context, sc domain.Scenario, quotesPath string) (*backtest.Result, error) {
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text")
	util.SetDefault(logger)

	var src quotes.Source
	if quotesPath != "" {
		f, err := os.Open(quotesPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		q, err := quotes.ParseCSV(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", quotesPath, err)
		}
		static := quotes.NewStaticSource()
		static.Set(sc.Ticker, q)
		src = static
	} else {
		src, _, err = quotes.Stack(cfg, store.NewParquetStore(cfg.Storage.DataDir), nil)
		if err != nil {
			return nil, err
		}
	}
	return backtest.NewRunner(src, cfg.Backtest.WarmupPaddingDays, nil, logger).Run(ctx, sc)
}

func runGRPC(ctx context.Context, addr string, sc domain.Scenario) (*backtest.Result, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()
	out, err := api.NewBacktestClient(conn).Run(ctx, &api.RunRequest{Scenario: sc})
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

// runRemote prints the server-side summary; the HTTP API returns wire types
// rather than a backtest.Result.
func runRemote(ctx context.Context, baseURL string, sc domain.Scenario) error {
	c := client.NewClient(baseURL, client.WithOwner(os.Getenv("BACKTESTER_OWNER")))
	out, err := c.RunBacktest(ctx, client.Scenario{
		Ticker:             sc.Ticker,
		Start:              sc.Start.Format(domain.DateLayout),
		End:                sc.End.Format(domain.DateLayout),
		StartingInvestment: sc.StartingInvestment,
		TransactionCost:    sc.TransactionCost,
		BuyTrigger:         sc.BuyTrigger,
		SellTrigger:        sc.SellTrigger,
	}, false)
	if err != nil {
		return err
	}
	if out.Chart != nil {
		fmt.Println(out.Chart.Title)
	}
	fmt.Printf("ending investment %s, return %v%%, annual return %v%%\n",
		report.Currency(out.EndingInvestment), report.Round(out.InvestmentReturnPercent, 2), out.AnnualReturnPercent)
	for _, d := range out.TradeDays {
		if d.Action == domain.ActionBuy || d.Action == domain.ActionSell {
			fmt.Printf("  %s %s %v shares at %v\n", d.Date, d.Action, report.Round(d.NumSharesTraded, 3), d.Price)
		}
	}
	return nil
}

func listScenarios(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scenarios", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "backtest-server HTTP base URL")
	fs.Parse(args)

	c := client.NewClient(*server, client.WithOwner(os.Getenv("BACKTESTER_OWNER")))
	list, err := c.ListScenarios(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTICKER\tSTART\tEND\tENDING\tANNUAL%")
	for _, sc := range list {
		ending, annual := "-", "-"
		if sc.AnalysisResults != nil {
			ending = report.Currency(sc.AnalysisResults.EndingInvestment)
			annual = fmt.Sprint(sc.AnalysisResults.AnnualReturnPercent)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", sc.ID, sc.Ticker, sc.Start, sc.End, ending, annual)
	}
	return tw.Flush()
}
