// Command adminctl drives the admin side of the ride backend from a shell.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/example/moto-driver/internal/backend"
	"github.com/example/moto-driver/internal/models"
)

const usage = `usage: adminctl [-backend URL] [-admin ID] <command> [flags]

commands:
  create-ride -from ADDR -to ADDR [-payment METHOD] [-value N] [-phone N]
  drivers     [-status pendente|aprovado|reprovado]
  approve     DRIVER_ID
  reprove     DRIVER_ID
  stop-all
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "adminctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("adminctl", flag.ContinueOnError)
	endpoint := global.String("backend", envOr("BACKEND_URL", "http://localhost:8080"), "ride backend base URL")
	adminID := global.String("admin", os.Getenv("ADMIN_ID"), "admin account id")
	timeout := global.Duration("timeout", 10*time.Second, "request timeout")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return errors.New("missing command")
	}
	if *adminID == "" {
		return errors.New("-admin or ADMIN_ID is required")
	}

	client := backend.NewClient(*endpoint, *timeout)
	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "create-ride":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		from := fs.String("from", "", "pickup address")
		to := fs.String("to", "", "dropoff address")
		payment := fs.String("payment", "dinheiro", "payment method")
		value := fs.Float64("value", models.DefaultRideValue, "fare")
		phone := fs.String("phone", "", "client phone number")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		resp, err := client.CreateRide(ctx, *adminID, models.RideOffer{
			Pickup:        *from,
			Dropoff:       *to,
			PaymentMethod: *payment,
			Value:         *value,
			ClientPhone:   *phone,
		})
		if err != nil {
			return err
		}
		return printJSON(out, resp)

	case "drivers":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		status := fs.String("status", "", "only drivers with this review status")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		groups, err := client.ListDriversByStatus(ctx, *adminID)
		if err != nil {
			return err
		}
		if *status != "" {
			return printJSON(out, groups[*status])
		}
		return printJSON(out, groups)

	case "approve", "reprove":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("%s needs exactly one driver id", cmd)
		}
		review := client.ApproveDriver
		if cmd == "reprove" {
			review = client.ReproveDriver
		}
		resp, err := review(ctx, *adminID, cmdArgs[0])
		if err != nil {
			return err
		}
		return printJSON(out, resp)

	case "stop-all":
		resp, err := client.StopAllSimulations(ctx, *adminID)
		if err != nil {
			return err
		}
		return printJSON(out, resp)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
