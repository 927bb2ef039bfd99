package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/NikoleTW/VPNBot/internal/application"
	"github.com/NikoleTW/VPNBot/internal/platform/config"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML document accepted by `vpnshop seed`.
type seedFile struct {
	Catalog        []application.CatalogItemInput   `yaml:"catalog"`
	PaymentMethods []application.PaymentMethodInput `yaml:"payment_methods"`
	Settings       map[string]string                `yaml:"settings"`
}

func readSeed(path string) (seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return seedFile{}, err
	}
	var s seedFile
	if err := yaml.Unmarshal(data, &s); err != nil {
		return seedFile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

type seedResult struct {
	Catalog        int `json:"catalog"`
	PaymentMethods int `json:"payment_methods"`
	Settings       int `json:"settings"`
	Skipped        int `json:"skipped"`
}

// applySeed creates catalog items and payment methods whose names are not
// taken yet and writes every listed setting.
func applySeed(ctx context.Context, service *application.Service, s seedFile) (seedResult, error) {
	var res seedResult

	items, err := service.ListCatalogItems(ctx, false)
	if err != nil {
		return res, err
	}
	existing := map[string]bool{}
	for _, item := range items {
		existing[item.Name] = true
	}
	for _, in := range s.Catalog {
		if existing[in.Name] {
			res.Skipped++
			continue
		}
		if _, err := service.CreateCatalogItem(ctx, in); err != nil {
			return res, fmt.Errorf("catalog %q: %w", in.Name, err)
		}
		existing[in.Name] = true
		res.Catalog++
	}

	methods, err := service.ListPaymentMethods(ctx, false)
	if err != nil {
		return res, err
	}
	existing = map[string]bool{}
	for _, m := range methods {
		existing[m.Name] = true
	}
	for _, in := range s.PaymentMethods {
		if existing[in.Name] {
			res.Skipped++
			continue
		}
		if _, err := service.CreatePaymentMethod(ctx, in); err != nil {
			return res, fmt.Errorf("payment method %q: %w", in.Name, err)
		}
		existing[in.Name] = true
		res.PaymentMethods++
	}

	keys := make([]string, 0, len(s.Settings))
	for k := range s.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := service.SetSetting(ctx, k, s.Settings[k]); err != nil {
			return res, fmt.Errorf("setting %q: %w", k, err)
		}
		res.Settings++
	}
	return res, nil
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load catalog items, payment methods and settings from YAML into the local database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Required: true, Usage: "seed YAML path"},
			&cli.StringFlag{Name: "db-path", Usage: "SQLite database path (overrides VPNSHOP_DB_PATH)"},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if v := c.String("db-path"); v != "" {
				cfg.DBPath = v
			}
			s, err := readSeed(c.String("file"))
			if err != nil {
				return err
			}
			repo, closeDB, err := openStore(ctx, cfg.DBPath)
			if err != nil {
				return err
			}
			defer closeDB()

			// A running server picks the rows up once its caches expire.
			service := application.NewService(repo, nil, newLogger(cfg.SlogLevel()))
			res, err := applySeed(ctx, service, s)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(res)
			}
			printKV([][2]string{
				{"catalog", fmt.Sprint(res.Catalog)},
				{"payment_methods", fmt.Sprint(res.PaymentMethods)},
				{"settings", fmt.Sprint(res.Settings)},
				{"skipped", fmt.Sprint(res.Skipped)},
			})
			return nil
		},
	}
}
