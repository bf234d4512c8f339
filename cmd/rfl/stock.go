package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"refurbline/internal/domain"
	"refurbline/internal/engine"
	"refurbline/internal/engine/auth"
	"refurbline/internal/repo"
	"refurbline/internal/report"
)

func sparesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "spares", Short: "Spare parts inventory"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List spare parts and stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				parts, err := e.ListSpareParts(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(parts)
				}
				tw := newTable("Code", "Name", "Stock", "Min", "Max")
				for _, sp := range parts {
					tw.AppendRow(table.Row{sp.PartCode, sp.Name, sp.CurrentStock, sp.MinStock, sp.MaxStock})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <spares>",
		Short: `Check a request such as "RAM-001:2, SSD-002 x1" against stock`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				res, err := e.ValidateSpares(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "issue <repair-job-id> <spares>",
		Short: "Issue spares to a repair job, all or nothing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				job, err := e.IssueSpares(ctx, p, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(job)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "receive <part-code> <quantity>",
		Short: "Book received stock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				part, err := e.ReceiveStock(ctx, p, args[0], qty)
				if err != nil {
					return err
				}
				return printJSONOrTable(part)
			})
		},
	})
	return cmd
}

func rackCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rack", Short: "Storage racks"}
	var stage string
	list := &cobra.Command{
		Use:   "list",
		Short: "List racks with occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				racks, err := e.ListRacks(ctx, p, domain.RackStage(strings.ToUpper(stage)))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(racks)
				}
				tw := newTable("Code", "Stage", "Occupied", "Capacity", "Active")
				for _, r := range racks {
					tw.AppendRow(table.Row{r.Code, r.Stage, r.OccupantCount, r.Capacity, r.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&stage, "stage", "", "stage filter")
	cmd.AddCommand(list)

	var in engine.RackInput
	var rackStage string
	var inactive bool
	save := &cobra.Command{
		Use:   "save <code>",
		Short: "Create or update a rack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Code = args[0]
			in.Stage = domain.RackStage(strings.ToUpper(rackStage))
			in.Active = !inactive
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				r, err := e.SaveRack(ctx, p, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	save.Flags().StringVar(&rackStage, "stage", "", "pipeline stage the rack serves")
	save.Flags().IntVar(&in.Capacity, "capacity", 0, "number of devices")
	save.Flags().BoolVar(&inactive, "inactive", false, "take the rack out of rotation")
	_ = save.MarkFlagRequired("stage")
	cmd.AddCommand(save)
	return cmd
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "batch", Short: "Inward batches and shipment verification"}
	cmd.AddCommand(purchaseOrderCmd())

	var poID string
	create := &cobra.Command{
		Use:   "create <code>",
		Short: "Open an inward batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				b, err := e.CreateBatch(ctx, p, args[0], poID)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	create.Flags().StringVar(&poID, "po", "", "purchase order id")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				items, err := e.ListBatches(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Code", "PO", "Verification", "Verified by")
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, b.Code, deref(b.PurchaseOrderID), b.VerificationStatus, deref(b.VerifiedBy)})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "verify <batch-id>",
		Short: "Match received devices against the purchase order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				res, err := e.VerifyShipment(ctx, p, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %.1f%% matched (%d expected, %d received)\n", res.Status, res.MatchPercentage, res.TotalExpected, res.TotalReceived)
				for _, d := range res.Discrepancies {
					fmt.Println(" -", d)
				}
				return nil
			})
		},
	})

	var reason string
	override := &cobra.Command{
		Use:   "override <batch-id>",
		Short: "Accept a partial batch as verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				b, err := e.OverrideVerification(ctx, p, args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	override.Flags().StringVar(&reason, "reason", "", "why the discrepancy is accepted")
	_ = override.MarkFlagRequired("reason")
	cmd.AddCommand(override)

	var outPath string
	export := &cobra.Command{
		Use:   "export <batch-id>",
		Short: "Write the verification report as an xlsx workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				b, err := e.VerificationReport(ctx, p, args[0])
				if err != nil {
					return err
				}
				var po *domain.PurchaseOrder
				if b.PurchaseOrderID != nil {
					got, err := e.GetPurchaseOrder(ctx, p, *b.PurchaseOrderID)
					if err != nil {
						return err
					}
					po = &got
				}
				if outPath == "" {
					outPath = "verification-" + b.Code + ".xlsx"
				}
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				if err := report.WriteVerification(f, b, po); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Println("wrote", outPath)
				return nil
			})
		},
	}
	export.Flags().StringVarP(&outPath, "out", "o", "", "output file")
	cmd.AddCommand(export)
	return cmd
}

func purchaseOrderCmd() *cobra.Command {
	var in engine.PurchaseOrderInput
	var items []string
	cmd := &cobra.Command{
		Use:   "po",
		Short: "Register a purchase order",
		Long: `Register a purchase order. Each --item is CATEGORY:BRAND:MODEL:QTY, for example
--item "LAPTOP:Dell:Latitude 7490:20".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range items {
				parts := strings.Split(raw, ":")
				if len(parts) != 4 {
					return fmt.Errorf("invalid --item %q, expected CATEGORY:BRAND:MODEL:QTY", raw)
				}
				qty, err := strconv.Atoi(strings.TrimSpace(parts[3]))
				if err != nil {
					return fmt.Errorf("invalid quantity in --item %q", raw)
				}
				in.Items = append(in.Items, domain.ExpectedItem{
					Category: domain.Category(strings.ToUpper(strings.TrimSpace(parts[0]))),
					Brand:    strings.TrimSpace(parts[1]),
					Model:    strings.TrimSpace(parts[2]),
					Quantity: qty,
				})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				po, err := e.CreatePurchaseOrder(ctx, p, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(po)
			})
		},
	}
	cmd.Flags().StringVar(&in.Number, "number", "", "purchase order number")
	cmd.Flags().StringVar(&in.Supplier, "supplier", "", "supplier")
	cmd.Flags().StringArrayVar(&items, "item", nil, "expected line (repeatable)")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "events", Short: "Event log"}
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				events, err := e.ListEvents(ctx, p, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor")
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.AddCommand(tail)
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}
	var name string
	var roles []string
	create := &cobra.Command{
		Use:   "create <actor-id>",
		Short: "Issue a key; the plain value is shown once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				plain, key, err := e.CreateAPIKey(ctx, p, args[0], name, roles)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "roles": key.Roles, "key": plain})
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label")
	create.Flags().StringSliceVar(&roles, "grant", nil, "roles granted to the key")
	cmd.AddCommand(create)

	var actor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				keys, err := e.ListAPIKeys(ctx, p, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Actor", "Name", "Roles", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, strings.Join(k.Roles, ","), k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&actor, "actor", "", "filter by actor")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				return e.RevokeAPIKey(ctx, p, args[0])
			})
		},
	})
	return cmd
}
