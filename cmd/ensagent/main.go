package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/everFinance/ensagent"
	"github.com/everFinance/ensagent/common"
	"github.com/everFinance/ensagent/config"
	"github.com/everFinance/ensagent/schema"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "ensagent",
		Usage:   "register .eth names through commit and reveal",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "yaml config file", EnvVars: []string{"CONFIG"}},
			&cli.StringFlag{Name: "network", Usage: "mainnet or sepolia", EnvVars: []string{"NETWORK"}},
			&cli.StringFlag{Name: "rpc_url", Usage: "ethereum json-rpc endpoint", EnvVars: []string{"RPC_URL"}},
			&cli.StringFlag{Name: "private_key", Usage: "hex key of the paying wallet", EnvVars: []string{"PRIVATE_KEY"}},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the http api",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "port", Usage: "listen address, e.g :3000", EnvVars: []string{"PORT"}},
				},
				Action: serve,
			},
			{
				Name:      "availability",
				Usage:     "check whether a name can be registered",
				ArgsUsage: "<name.eth>",
				Action:    availability,
			},
			{
				Name:      "price",
				Usage:     "quote the rent price of a name",
				ArgsUsage: "<name.eth>",
				Flags:     []cli.Flag{yearsFlag()},
				Action:    price,
			},
			{
				Name:      "register",
				Usage:     "register a name for an owner",
				ArgsUsage: "<name.eth> <owner>",
				Flags: []cli.Flag{
					yearsFlag(),
					&cli.StringFlag{Name: "max_price_wei", Usage: "upper bound on the total price; default quote + 10%"},
				},
				Action: register,
			},
			{
				Name:  "recover",
				Usage: "inspect and finish journaled commitments",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list pending commitments",
						Action: recoverList,
					},
					{
						Name:      "reveal",
						Usage:     "finish a pending commitment",
						ArgsUsage: "<commitment | commit tx | run id | name.eth>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "max_price_wei", Usage: "upper bound on the total price; default quote + 10%"},
						},
						Action: recoverReveal,
					},
				},
			},
			{
				Name:   "tool",
				Usage:  "serve json-rpc tool calls over stdin and stdout",
				Action: tool,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if p := ensagent.Pending(err); p != nil {
			fmt.Fprintf(os.Stderr, "commit %s was sent; finish it with: ensagent recover reveal %s\n", p.CommitTxHash.Hex(), p.Commitment.Hex())
		}
		os.Exit(1)
	}
}

func yearsFlag() cli.Flag {
	return &cli.Float64Flag{Name: "years", Value: schema.DefaultYears, Usage: "registration length in years"}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadFile(c.String("config"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	merged := cfg.With(config.Overrides{
		Network:    c.String("network"),
		RpcUrl:     c.String("rpc_url"),
		PrivateKey: c.String("private_key"),
	})
	if err := common.InitSentry(merged.SentryDsn, merged.Network); err != nil {
		return nil, err
	}
	return &merged, nil
}

// newAgent opens the journal and kafka only for commands that write.
func newAgent(c *cli.Context, writes bool) (*ensagent.Agent, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if !writes {
		cfg.Recovery.BoltDir = ""
		cfg.Kafka.Start = false
	}
	return ensagent.New(c.Context, cfg)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func serve(c *cli.Context) error {
	a, err := newAgent(c, true)
	if err != nil {
		return err
	}
	defer a.Close()

	port := c.String("port")
	if port == "" {
		port = config.DefaultPort
	}
	if err := a.Run(port); err != nil {
		return err
	}
	ctx, cancel := signalContext(c.Context)
	defer cancel()
	<-ctx.Done()
	return nil
}

func availability(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}
	a, err := newAgent(c, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ok, err := a.CheckAvailability(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("%s is available\n", c.Args().First())
	} else {
		fmt.Printf("%s is taken\n", c.Args().First())
	}
	return nil
}

func price(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}
	a, err := newAgent(c, false)
	if err != nil {
		return err
	}
	defer a.Close()
	quote, err := a.Quote(c.Context, c.Args().First(), c.Float64("years"))
	if err != nil {
		return err
	}
	printQuote(quote)
	return nil
}

func printQuote(quote schema.PriceQuote) {
	fmt.Printf("base:    %s wei (%s ETH)\n", quote.Base, ensagent.FormatEther(quote.Base))
	fmt.Printf("premium: %s wei (%s ETH)\n", quote.Premium, ensagent.FormatEther(quote.Premium))
	fmt.Printf("total:   %s wei (%s ETH)\n", quote.Total(), ensagent.FormatEther(quote.Total()))
}

func register(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.ShowSubcommandHelp(c)
	}
	name, owner := c.Args().Get(0), c.Args().Get(1)
	a, err := newAgent(c, true)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.CanRegister(); err != nil {
		return err
	}
	ctx, cancel := signalContext(c.Context)
	defer cancel()

	ok, err := a.CheckAvailability(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is not available", name)
	}
	years := c.Float64("years")
	quote, err := a.Quote(ctx, name, years)
	if err != nil {
		return err
	}
	printQuote(quote)

	maxPrice, err := maxPriceFlag(c)
	if err != nil {
		return err
	}
	if maxPrice == nil {
		maxPrice = new(big.Int).Mul(quote.Total(), big.NewInt(100+schema.RegisterValueBufferPercent))
		maxPrice.Div(maxPrice, big.NewInt(100))
	}
	fmt.Printf("registering %s for %s, price ceiling %s ETH; this takes about a minute\n", name, owner, ensagent.FormatEther(maxPrice))

	res, err := a.Register(ctx, schema.RegistrationRequest{
		Name:           name,
		DurationYears:  years,
		OwnerSpecifier: owner,
		MaxPriceWei:    maxPrice,
	})
	if err != nil {
		return err
	}
	printResult(a, res)
	return nil
}

func printResult(a *ensagent.Agent, res *schema.RegistrationResult) {
	fmt.Printf("registered %s to %s for %d seconds, cost %s ETH\n", res.Name, res.Owner.Hex(), res.Duration, ensagent.FormatEther(res.Cost))
	fmt.Printf("commit:   %s\n", a.Network().TxUrl(res.CommitTxHash))
	fmt.Printf("register: %s\n", a.Network().TxUrl(res.RegisterTxHash))
}

func maxPriceFlag(c *cli.Context) (*big.Int, error) {
	s := c.String("max_price_wei")
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, errors.New("max_price_wei must be a non-negative integer")
	}
	return v, nil
}

func recoverList(c *cli.Context) error {
	a, err := newAgent(c, true)
	if err != nil {
		return err
	}
	defer a.Close()
	pending, err := a.ListPending()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pending)
}

func recoverReveal(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}
	a, err := newAgent(c, true)
	if err != nil {
		return err
	}
	defer a.Close()
	maxPrice, err := maxPriceFlag(c)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c.Context)
	defer cancel()
	res, err := a.Reveal(ctx, c.Args().First(), maxPrice)
	if err != nil {
		return err
	}
	printResult(a, res)
	return nil
}

func tool(c *cli.Context) error {
	common.LogToStderr()
	a, err := newAgent(c, true)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := signalContext(c.Context)
	defer cancel()
	return ensagent.NewToolServer(a, version).Serve(ctx, os.Stdin, os.Stdout)
}
