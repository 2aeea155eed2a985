package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gregtusar/futures-trader/api"
	"github.com/gregtusar/futures-trader/internal/config"
	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/gregtusar/futures-trader/pkg/trader"
	"github.com/gregtusar/futures-trader/pkg/validator"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type orderFlags struct {
	reduceOnly   bool
	positionSide string
}

func (f *orderFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.reduceOnly, "reduce-only", false, "reduce only order")
	cmd.Flags().StringVar(&f.positionSide, "position-side", "", "position side (BOTH, LONG or SHORT); defaults to config")
}

func (f *orderFlags) options(tif string) trader.OrderOptions {
	return trader.OrderOptions{
		TimeInForce:  models.TimeInForce(strings.ToUpper(tif)),
		ReduceOnly:   f.reduceOnly,
		PositionSide: strings.ToUpper(f.positionSide),
	}
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, validator.Errorf(field, "%q is not a number", s)
	}
	return v, nil
}

func parseDecimals(fields []string, args []string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(fields))
	for i, field := range fields {
		v, err := parseDecimal(field, args[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newMarketCmd() *cobra.Command {
	var flags orderFlags
	cmd := &cobra.Command{
		Use:   "market SYMBOL SIDE QUANTITY",
		Short: "Place a market order",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := parseDecimal("quantity", args[2])
			if err != nil {
				return err
			}
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, err := rt.trader.PlaceMarket(cmd.Context(), args[0], models.ParseOrderSide(args[1]), qty, flags.options(""))
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), "Market Order", rec)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newLimitCmd() *cobra.Command {
	var (
		flags orderFlags
		tif   string
	)
	cmd := &cobra.Command{
		Use:   "limit SYMBOL SIDE QUANTITY PRICE",
		Short: "Place a limit order",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseDecimals([]string{"quantity", "price"}, args[2:])
			if err != nil {
				return err
			}
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, err := rt.trader.PlaceLimit(cmd.Context(), args[0], models.ParseOrderSide(args[1]), v[0], v[1], flags.options(tif))
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), "Limit Order", rec)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&tif, "time-in-force", "GTC", "time in force (GTC, IOC or FOK)")
	return cmd
}

func newStopLimitCmd() *cobra.Command {
	var (
		flags orderFlags
		tif   string
	)
	cmd := &cobra.Command{
		Use:   "stop-limit SYMBOL SIDE QUANTITY STOP_PRICE LIMIT_PRICE",
		Short: "Place a stop-limit order",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseDecimals([]string{"quantity", "stopPrice", "price"}, args[2:])
			if err != nil {
				return err
			}
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, err := rt.trader.PlaceStopLimit(cmd.Context(), args[0], models.ParseOrderSide(args[1]), v[0], v[2], v[1], flags.options(tif))
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), "Stop-Limit Order", rec)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&tif, "time-in-force", "GTC", "time in force (GTC, IOC or FOK)")
	return cmd
}

func newOCOCmd() *cobra.Command {
	var (
		flags     orderFlags
		stopLimit string
		stream    bool
	)
	cmd := &cobra.Command{
		Use:   "oco SYMBOL SIDE QUANTITY TAKE_PROFIT STOP_LOSS",
		Short: "Place a take-profit/stop-loss bracket and cancel one leg when the other fills",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseDecimals([]string{"quantity", "takeProfit", "stopLoss"}, args[2:])
			if err != nil {
				return err
			}
			p := trader.BracketParams{
				Symbol:       args[0],
				Side:         models.ParseOrderSide(args[1]),
				Quantity:     v[0],
				TakeProfit:   v[1],
				StopLoss:     v[2],
				ReduceOnly:   flags.reduceOnly,
				PositionSide: strings.ToUpper(flags.positionSide),
			}
			if stopLimit != "" {
				sl, err := parseDecimal("stopLimit", stopLimit)
				if err != nil {
					return err
				}
				p.StopLimit = &sl
			}

			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			b, err := rt.trader.PlaceBracket(ctx, p)
			if err != nil {
				return err
			}
			printBracket(cmd.OutOrStdout(), b)

			var updates <-chan models.OrderUpdate
			if stream {
				us := rt.client.NewUserStream()
				updates, err = us.Start(ctx)
				if err != nil {
					logger.WithError(err).Warn("User data stream unavailable, polling only")
				} else {
					defer us.Close(context.WithoutCancel(ctx))
				}
			}

			res, err := rt.trader.MonitorBracket(ctx, b, updates)
			if res != nil {
				printBracketResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&stopLimit, "stop-limit-price", "", "limit price for the stop-loss leg (stop-market when empty)")
	cmd.Flags().BoolVar(&stream, "stream", false, "use the user data stream to react to fills between polls")
	return cmd
}

func newTWAPCmd() *cobra.Command {
	var (
		flags  orderFlags
		slices int
	)
	cmd := &cobra.Command{
		Use:   "twap SYMBOL SIDE TOTAL_QUANTITY DURATION_MINUTES",
		Short: "Split a market order into equal slices over a duration",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := parseDecimal("totalQuantity", args[2])
			if err != nil {
				return err
			}
			minutes, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return validator.Errorf("duration", "%q is not a number of minutes", args[3])
			}

			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.trader.ExecuteTWAP(cmd.Context(), trader.TWAPParams{
				Symbol:        args[0],
				Side:          models.ParseOrderSide(args[1]),
				TotalQuantity: qty,
				Duration:      time.Duration(minutes * float64(time.Minute)),
				Slices:        slices,
				ReduceOnly:    flags.reduceOnly,
				PositionSide:  strings.ToUpper(flags.positionSide),
			})
			if res != nil {
				printTWAP(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&slices, "num-slices", 0, "number of slices (defaults to strategy.default_twap_slices)")
	return cmd
}

func newGridCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Create or inspect a price grid",
	}
	cmd.AddCommand(newGridCreateCmd(), newGridStatusCmd())
	return cmd
}

func newGridCreateCmd() *cobra.Command {
	var (
		flags orderFlags
		mode  string
	)
	cmd := &cobra.Command{
		Use:   "create SYMBOL LOWER_PRICE UPPER_PRICE NUM_GRIDS QUANTITY_PER_GRID",
		Short: "Place limit orders at evenly spaced levels",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			bounds, err := parseDecimals([]string{"lowerPrice", "upperPrice"}, args[1:3])
			if err != nil {
				return err
			}
			levels, err := strconv.Atoi(args[3])
			if err != nil {
				return validator.Errorf("levels", "%q is not an integer", args[3])
			}
			qty, err := parseDecimal("quantity", args[4])
			if err != nil {
				return err
			}
			gridMode, err := trader.ParseGridMode(mode)
			if err != nil {
				return err
			}

			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.trader.CreateGrid(cmd.Context(), trader.GridParams{
				Symbol:       args[0],
				Lower:        bounds[0],
				Upper:        bounds[1],
				Levels:       levels,
				Quantity:     qty,
				Mode:         gridMode,
				ReduceOnly:   flags.reduceOnly,
				PositionSide: strings.ToUpper(flags.positionSide),
			})
			if err != nil {
				return err
			}
			printGrid(cmd.OutOrStdout(), res)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&mode, "side", "BOTH", "grid side (BOTH, BUY or SELL)")
	return cmd
}

func newGridStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status SYMBOL",
		Short: "Count open orders for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			snap, err := rt.trader.GridStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printGridStatus(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			server := api.NewServer(rt.trader, logger, api.Options{
				Port:            rt.cfg.Server.Port,
				AllowedOrigins:  rt.cfg.Server.AllowedOrigins,
				ShutdownTimeout: rt.cfg.Server.ShutdownTimeout,
				JobRetention:    rt.cfg.Server.JobRetention,
				JWTSecret:       rt.cfg.Server.JWTSecret,
			})
			if rt.cfg.Server.JWTSecret == "" {
				logger.Warn("server.jwt_secret is empty, API requests are not authenticated")
			}

			logger.Info("Futures trader API is running. Press Ctrl+C to stop.")
			if err := server.Run(cmd.Context()); err != nil {
				return fmt.Errorf("server stopped: %w", err)
			}
			logger.Info("Futures trader API stopped")
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not configured")
			}
			if ttl <= 0 {
				ttl = cfg.Server.TokenTTL
			}

			token, err := api.NewTokenIssuer(cfg.Server.JWTSecret).Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to server.token_ttl)")
	return cmd
}
