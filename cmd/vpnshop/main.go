package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/urfave/cli/v3"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "vpnshop",
		Usage: "Telegram VPN shop server and admin CLI",
		Commands: []*cli.Command{
			serveCommand(),
			seedCommand(),
			authCommand(),
			catalogCommand(),
			paymentMethodsCommand(),
			ordersCommand(),
			credentialsCommand(),
			buyersCommand(),
			settingsCommand(),
			statsCommand(),
			panelCommand(),
			cacheCommand(),
			usersCommand(),
			auditCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

var jsonFlag = &cli.BoolFlag{Name: "json", Usage: "output raw JSON"}

// run loads the saved CLI config, performs op and either prints the raw
// result or hands the decoded value to show.
func run[T any](ctx context.Context, c *cli.Command, op operation, show func(T)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var out T
	if err := op.do(ctx, cfg, &out); err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(out)
	}
	show(out)
	return nil
}

func optionalUint(c *cli.Command, name string) *uint {
	if !c.IsSet(name) {
		return nil
	}
	v := c.Uint(name)
	return &v
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authentication commands",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Login and store CLI token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "transport", Value: "uds", Usage: "uds or http"},
					&cli.StringFlag{Name: "server", Value: defaultServer},
					&cli.StringFlag{Name: "socket", Value: defaultSocket},
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
					&cli.StringFlag{Name: "token-name", Value: "cli"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg := cliConfig{Transport: c.String("transport"), Server: c.String("server"), Socket: c.String("socket")}
					if cfg.Transport != "uds" && cfg.Transport != "http" {
						return fmt.Errorf("unknown transport %q", cfg.Transport)
					}
					var out struct {
						Token string `json:"token"`
						Email string `json:"email"`
					}
					if err := opLogin(c.String("email"), c.String("password"), c.String("token-name")).do(ctx, cfg, &out); err != nil {
						return err
					}
					cfg.Token = out.Token
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Printf("logged in as %s\n", out.Email)
					return nil
				},
			},
			{
				Name:  "whoami",
				Usage: "Show current authenticated user",
				Flags: []cli.Flag{jsonFlag},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opWhoAmI(), func(out map[string]any) {
						printKV([][2]string{
							{"id", fmt.Sprint(out["id"])},
							{"email", fmt.Sprint(out["email"])},
							{"role", fmt.Sprint(out["role"])},
						})
					})
				},
			},
			{
				Name:  "logout",
				Usage: "Clear local CLI auth token",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					if !cfg.uds() {
						_ = opLogout().do(ctx, cfg, nil)
					}
					cfg.Token = ""
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Println("logged out")
					return nil
				},
			},
		},
	}
}

func catalogFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name", Required: required},
		&cli.StringFlag{Name: "description"},
		&cli.Int64Flag{Name: "price", Required: required, Usage: "price in minor units (kopecks)"},
		&cli.IntFlag{Name: "days", Required: required, Usage: "subscription duration in days"},
		&cli.StringFlag{Name: "protocol", Required: required, Usage: "vmess, vless or trojan"},
		&cli.BoolFlag{Name: "active", Value: true},
		jsonFlag,
	}
}

func catalogInput(c *cli.Command) map[string]any {
	return map[string]any{
		"name":          c.String("name"),
		"description":   c.String("description"),
		"price":         c.Int64("price"),
		"duration_days": c.Int("days"),
		"protocol":      c.String("protocol"),
		"is_active":     c.Bool("active"),
	}
}

func catalogCommand() *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "Catalog item commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List catalog items",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "active-only"}, jsonFlag},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opCatalogList(c.Bool("active-only")), printCatalog)
				},
			},
			{
				Name:  "create",
				Usage: "Create a catalog item",
				Flags: catalogFlags(true),
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opCatalogCreate(catalogInput(c)), printCatalogItem)
				},
			},
			{
				Name:  "update",
				Usage: "Replace a catalog item",
				Flags: append(catalogFlags(true), &cli.UintFlag{Name: "id", Required: true}),
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opCatalogUpdate(c.Uint("id"), catalogInput(c)), printCatalogItem)
				},
			},
			{
				Name:  "activate",
				Usage: "Show or hide a catalog item in the bot",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "id", Required: true},
					&cli.BoolFlag{Name: "off", Usage: "deactivate instead"},
					jsonFlag,
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opCatalogSetActive(c.Uint("id"), !c.Bool("off")), printCatalogItem)
				},
			},
		},
	}
}

func paymentMethodFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name", Required: true},
		&cli.StringFlag{Name: "description"},
		&cli.StringFlag{Name: "instructions", Required: true, Usage: "text shown to the buyer"},
		&cli.BoolFlag{Name: "active", Value: true},
		jsonFlag,
	}
}

func paymentMethodInput(c *cli.Command) map[string]any {
	return map[string]any{
		"name":         c.String("name"),
		"description":  c.String("description"),
		"instructions": c.String("instructions"),
		"is_active":    c.Bool("active"),
	}
}

func paymentMethodsCommand() *cli.Command {
	printOne := func(m domain.PaymentMethod) { printPaymentMethods([]domain.PaymentMethod{m}) }
	return &cli.Command{
		Name:  "payment-methods",
		Usage: "Payment method commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List payment methods",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "active-only"}, jsonFlag},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opPaymentMethodsList(c.Bool("active-only")), printPaymentMethods)
				},
			},
			{
				Name:  "create",
				Usage: "Create a payment method",
				Flags: paymentMethodFlags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opPaymentMethodsCreate(paymentMethodInput(c)), printOne)
				},
			},
			{
				Name:  "update",
				Usage: "Replace a payment method",
				Flags: append(paymentMethodFlags(), &cli.UintFlag{Name: "id", Required: true}),
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opPaymentMethodsUpdate(c.Uint("id"), paymentMethodInput(c)), printOne)
				},
			},
		},
	}
}

type confirmResult struct {
	Order      domain.Order      `json:"order"`
	Credential domain.Credential `json:"credential"`
}

func ordersCommand() *cli.Command {
	return &cli.Command{
		Name:  "orders",
		Usage: "Order commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List orders, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "pending, awaiting_confirmation, completed or cancelled"},
					&cli.UintFlag{Name: "buyer-id"},
					&cli.IntFlag{Name: "limit", Value: 100},
					jsonFlag,
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opOrdersList(c.String("status"), optionalUint(c, "buyer-id"), c.Int("limit")), printOrders)
				},
			},
			{
				Name:  "get",
				Usage: "Show one order",
				Flags: []cli.Flag{&cli.UintFlag{Name: "id", Required: true}, jsonFlag},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opOrdersGet(c.Uint("id")), printOrder)
				},
			},
			{
				Name:  "confirm",
				Usage: "Confirm payment and provision the credential",
				Flags: []cli.Flag{&cli.UintFlag{Name: "id", Required: true}, jsonFlag},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opOrdersConfirm(c.Uint("id")), func(out confirmResult) {
						printOrder(out.Order)
						fmt.Println()
						printCredential(out.Credential)
					})
				},
			},
			{
				Name:  "cancel",
				Usage: "Cancel an order that is not completed",
				Flags: []cli.Flag{&cli.UintFlag{Name: "id", Required: true}, jsonFlag},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opOrdersCancel(c.Uint("id")), printOrder)
				},
			},
		},
	}
}

func credentialsCommand() *cli.Command {
	return &cli.Command{
		Name:  "credentials",
		Usage: "VPN credential commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List credentials",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "buyer-id"},
					&cli.BoolFlag{Name: "active-only"},
					&cli.IntFlag{Name: "limit", Value: 200},
					jsonFlag,
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opCredentialsList(optionalUint(c, "buyer-id"), c.Bool("active-only"), c.Int("limit")), printCredentials)
				},
			},
			{
				Name:  "extend",
				Usage: "Extend a credential by a number of days",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "id", Required: true},
					&cli.IntFlag{Name: "days", Required: true},
					jsonFlag,
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opCredentialsExtend(c.Uint("id"), c.Int("days")), printCredential)
				},
			},
			{
				Name:  "toggle",
				Usage: "Enable or disable a credential",
				Flags: []cli.Flag{&cli.UintFlag{Name: "id", Required: true}, jsonFlag},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opCredentialsToggle(c.Uint("id")), printCredential)
				},
			},
		},
	}
}

func buyersCommand() *cli.Command {
	return &cli.Command{
		Name:  "buyers",
		Usage: "Buyer commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List buyers",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "q", Usage: "match username or name"},
					&cli.IntFlag{Name: "limit", Value: 200},
					jsonFlag,
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opBuyersList(c.String("q"), c.Int("limit")), printBuyers)
				},
			},
			{
				Name:  "block",
				Usage: "Block or unblock a buyer",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "id", Required: true},
					&cli.BoolFlag{Name: "unblock"},
					jsonFlag,
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opBuyersBlock(c.Uint("id"), !c.Bool("unblock")), func(b domain.Buyer) {
						printBuyers([]domain.Buyer{b})
					})
				},
			},
		},
	}
}

func settingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Shop settings",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List settings",
				Flags: []cli.Flag{jsonFlag},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opSettingsList(), printSettings)
				},
			},
			{
				Name:  "set",
				Usage: "Set one setting",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Required: true},
					&cli.StringFlag{Name: "value", Required: true},
					jsonFlag,
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opSettingsSet(c.String("key"), c.String("value")), func(out map[string]string) {
						printSettings(out)
					})
				},
			},
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show shop statistics",
		Flags: []cli.Flag{jsonFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, c, opStats(), printStats)
		},
	}
}

func panelCommand() *cli.Command {
	return &cli.Command{
		Name:  "panel",
		Usage: "VPN panel commands",
		Commands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Show the panel's inbound statistics",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out json.RawMessage
					if err := opPanelStats().do(ctx, cfg, &out); err != nil {
						return err
					}
					return printJSON(out)
				},
			},
		},
	}
}

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Bot cache commands",
		Commands: []*cli.Command{
			{
				Name:  "clear",
				Usage: "Drop every cached catalog, credential and block flag",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					if err := opCacheClear().do(ctx, cfg, nil); err != nil {
						return err
					}
					fmt.Println("caches cleared")
					return nil
				},
			},
		},
	}
}

func usersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "Admin user commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List admin users",
				Flags: []cli.Flag{&cli.StringFlag{Name: "q"}, &cli.IntFlag{Name: "limit", Value: 200}, jsonFlag},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opUsersList(c.String("q"), c.Int("limit")), printUsers)
				},
			},
			{
				Name:  "create",
				Usage: "Create an admin user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
					&cli.StringFlag{Name: "role", Value: "operator", Usage: "admin or operator"},
					jsonFlag,
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c, opUsersCreate(c.String("email"), c.String("password"), c.String("role")), func(u userRow) {
						printUsers([]userRow{u})
					})
				},
			},
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Show the admin audit log",
		Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}, jsonFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, c, opAuditList(c.Int("limit")), printAudit)
		},
	}
}
