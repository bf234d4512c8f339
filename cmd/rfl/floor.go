package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"refurbline/internal/checklist"
	"refurbline/internal/domain"
	"refurbline/internal/engine"
	"refurbline/internal/engine/auth"
	"refurbline/internal/repo"
)

func deviceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "device", Short: "Register and inspect devices"}
	cmd.AddCommand(deviceRegisterCmd())
	cmd.AddCommand(deviceListCmd())
	cmd.AddCommand(deviceShowCmd())
	cmd.AddCommand(deviceChecklistCmd())
	cmd.AddCommand(deviceStockOutCmd())
	cmd.AddCommand(deviceScrapCmd())
	cmd.AddCommand(devicePlaceCmd())
	return cmd
}

func deviceRegisterCmd() *cobra.Command {
	var in engine.DeviceInput
	var category, ownership string
	cmd := &cobra.Command{
		Use:   "register <barcode>",
		Short: "Register a received device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Barcode = args[0]
			in.Category = domain.Category(strings.ToUpper(category))
			in.Ownership = domain.Ownership(strings.ToUpper(ownership))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				d, err := e.RegisterDevice(ctx, p, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "LAPTOP, DESKTOP, WORKSTATION, SERVER, MONITOR, ALL_IN_ONE or TABLET")
	cmd.Flags().StringVar(&in.Brand, "brand", "", "brand")
	cmd.Flags().StringVar(&in.Model, "model", "", "model")
	cmd.Flags().StringVar(&ownership, "ownership", "", "OWNED, CONSIGNMENT or CUSTOMER")
	cmd.Flags().StringVar(&in.BatchID, "batch", "", "inward batch id")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func deviceListCmd() *cobra.Command {
	var f repo.DeviceFilters
	var status, category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.DeviceStatus(strings.ToUpper(status))
			f.Category = domain.Category(strings.ToUpper(category))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				items, err := e.ListDevices(ctx, p, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Barcode", "Category", "Model", "Status", "Grade", "Location")
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Barcode, d.Category, strings.TrimSpace(d.Brand + " " + d.Model), d.Status, deref(d.Grade), deref(d.Location)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().StringVar(&f.BatchID, "batch", "", "batch filter")
	cmd.Flags().StringVar(&f.RackID, "rack", "", "rack id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func deviceShowCmd() *cobra.Command {
	var barcode string
	cmd := &cobra.Command{
		Use:   "show [device-id]",
		Short: "Show a device by id or barcode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && barcode == "" {
				return fmt.Errorf("device id or --barcode required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				var d domain.Device
				var err error
				if barcode != "" {
					d, err = e.FindDevice(ctx, p, barcode)
				} else {
					d, err = e.GetDevice(ctx, p, args[0])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&barcode, "barcode", "", "look up by barcode")
	return cmd
}

func deviceChecklistCmd() *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "checklist <device-id>",
		Short: "Show the current checklist (or every pass with --history)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				var items []domain.ChecklistItem
				var err error
				if history {
					items, err = e.ChecklistHistory(ctx, p, args[0])
				} else {
					items, err = e.Checklist(ctx, p, args[0])
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Pass", "#", "Item", "Status", "Stage", "By", "Notes")
				for _, it := range items {
					tw.AppendRow(table.Row{it.Pass, it.Index, it.Text, it.Status, it.Stage, it.CheckedBy, it.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "include earlier passes")
	return cmd
}

func deviceStockOutCmd() *cobra.Command {
	var rental bool
	cmd := &cobra.Command{
		Use:   "stock-out <device-id>",
		Short: "Move a graded device out of stock (sold by default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := domain.StatusStockOutSold
			if rental {
				to = domain.StatusStockOutRental
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				d, err := e.StockOut(ctx, p, args[0], to)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().BoolVar(&rental, "rental", false, "stock out as rental")
	return cmd
}

func deviceScrapCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "scrap <device-id>",
		Short: "Scrap a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				d, err := e.Scrap(ctx, p, args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the device is scrapped")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func devicePlaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "place <device-id>",
		Short: "Retry rack placement for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				if err := auth.Require(p, auth.PermRackManage); err != nil {
					return err
				}
				d, err := e.Place(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "inspect", Short: "Run the inspection checklist"}
	cmd.AddCommand(&cobra.Command{
		Use:   "start <device-id>",
		Short: "Move a received device into inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				d, err := e.StartInspection(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	})
	cmd.AddCommand(inspectSubmitCmd())
	return cmd
}

func inspectSubmitCmd() *cobra.Command {
	var failed, notApplicable []int
	var notes []string
	var sparesText string
	var panels []string
	cmd := &cobra.Command{
		Use:   "submit <device-id>",
		Short: "Record results; items not listed as failed or n/a pass",
		Long: `Submit the full checklist for a device. Every item passes unless named with
--fail or --na. Notes attach to an item as INDEX=TEXT, for example
--note "8=45% capacity".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			noteByIndex := map[int]string{}
			for _, n := range notes {
				idx, text, ok := strings.Cut(n, "=")
				i, err := strconv.Atoi(strings.TrimSpace(idx))
				if !ok || err != nil {
					return fmt.Errorf("invalid --note %q, expected INDEX=TEXT", n)
				}
				noteByIndex[i] = text
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				d, err := e.GetDevice(ctx, p, args[0])
				if err != nil {
					return err
				}
				items, err := checklist.For(d.Category)
				if err != nil {
					return err
				}
				status := map[int]domain.CheckStatus{}
				for _, i := range failed {
					status[i] = domain.CheckFail
				}
				for _, i := range notApplicable {
					status[i] = domain.CheckNotApplicable
				}
				results := make([]engine.CheckResult, 0, len(items))
				for _, it := range items {
					s, ok := status[it.Index]
					if !ok {
						s = domain.CheckPass
					}
					results = append(results, engine.CheckResult{Index: it.Index, Status: s, Notes: noteByIndex[it.Index]})
				}
				res, err := e.RouteAfterInspection(ctx, p, engine.InspectionInput{
					DeviceID:       d.ID,
					Results:        results,
					SparesRequired: sparesText,
					PaintPanels:    panels,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().IntSliceVar(&failed, "fail", nil, "failed item indexes")
	cmd.Flags().IntSliceVar(&notApplicable, "na", nil, "not applicable item indexes")
	cmd.Flags().StringArrayVar(&notes, "note", nil, "item note as INDEX=TEXT (repeatable)")
	cmd.Flags().StringVar(&sparesText, "spares", "", `spares needed, e.g. "RAM-001:2, SSD-002"`)
	cmd.Flags().StringSliceVar(&panels, "panels", nil, "recommended paint panels")
	return cmd
}

func repairCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "repair", Short: "L2 coordination of repair tracks"}
	simple := func(use, short string, run func(context.Context, engine.Engine, auth.Principal, string) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <device-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
					v, err := run(ctx, e, p, args[0])
					if err != nil {
						return err
					}
					return printJSONOrTable(v)
				})
			},
		}
	}
	cmd.AddCommand(simple("claim", "Claim a device for coordination", func(ctx context.Context, e engine.Engine, p auth.Principal, id string) (any, error) {
		jobID, err := e.ClaimForCoordination(ctx, p, id)
		return map[string]string{"device_id": id, "repair_job_id": jobID}, err
	}))
	cmd.AddCommand(simple("readiness", "Show track flags and QC blockers", func(ctx context.Context, e engine.Engine, p auth.Principal, id string) (any, error) {
		return e.Readiness(ctx, p, id)
	}))
	cmd.AddCommand(simple("send-to-qc", "Hand a repaired device to QC", func(ctx context.Context, e engine.Engine, p auth.Principal, id string) (any, error) {
		if err := e.SendToQC(ctx, p, id); err != nil {
			return nil, err
		}
		return e.GetDevice(ctx, p, id)
	}))
	cmd.AddCommand(simple("jobs", "List repair jobs of a device", func(ctx context.Context, e engine.Engine, p auth.Principal, id string) (any, error) {
		return e.ListRepairJobs(ctx, p, id)
	}))
	cmd.AddCommand(trackCmd("dispatch", "Send a track to its specialist", false))
	cmd.AddCommand(trackCmd("self-complete", "Complete a track yourself", true))
	cmd.AddCommand(&cobra.Command{
		Use:   "collect <device-id> <track>",
		Short: "Collect a finished track back from its specialist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				if err := e.CollectTrack(ctx, p, args[0], domain.Track(strings.ToLower(args[1]))); err != nil {
					return err
				}
				r, err := e.Readiness(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "more-spares <device-id> <spares>",
		Short: "Request additional spares for the active job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				job, err := e.RequestMoreSpares(ctx, p, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(job)
			})
		},
	})
	cmd.AddCommand(recheckCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "overdue",
		Short: "List open repair jobs past their turnaround",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				jobs, err := e.ListOverdueJobs(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := newTable("Job", "Device", "L2", "Status", "Due")
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.ID, j.DeviceID, deref(j.L2EngineerID), j.Status, j.TATDueAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func trackCmd(use, short string, self bool) *cobra.Command {
	var in engine.DispatchInput
	cmd := &cobra.Command{
		Use:   use + " <device-id> <track>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.DeviceID = args[0]
			in.Track = domain.Track(strings.ToLower(args[1]))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				var id string
				var err error
				if self {
					id, err = e.CompleteTrackSelf(ctx, p, in)
				} else {
					id, err = e.DispatchTrack(ctx, p, in)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"work_job_id": id})
			})
		},
	}
	cmd.Flags().StringVar(&in.Instructions, "instructions", "", "notes for the specialist")
	cmd.Flags().StringSliceVar(&in.Panels, "panels", nil, "paint panels (paint track only)")
	return cmd
}

func recheckCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "recheck <device-id> <index> <PASS|FAIL|NOT_APPLICABLE>",
		Short: "Re-check a checklist item after repair",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[1])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				it, err := e.RecheckChecklistItem(ctx, p, args[0], idx, domain.CheckStatus(strings.ToUpper(args[2])), notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func workCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "work", Short: "Specialist work jobs"}
	var track string
	list := &cobra.Command{
		Use:   "list",
		Short: "List open work jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				jobs, err := e.ListOpenWorkJobs(ctx, p, domain.Track(strings.ToLower(track)))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := newTable("ID", "Device", "Track", "Status", "Technician", "Instructions")
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.ID, j.DeviceID, j.Track, j.Status, deref(j.TechnicianID), j.Instructions})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&track, "track", "", "display, battery, l3 or paint")
	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "start <work-job-id>",
		Short: "Start a work job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				j, err := e.StartWorkJob(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	})
	var notes string
	complete := &cobra.Command{
		Use:   "complete <work-job-id>",
		Short: "Complete a work job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				j, err := e.CompleteWorkJob(ctx, p, args[0], notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	complete.Flags().StringVar(&notes, "notes", "", "result notes")
	cmd.AddCommand(complete)
	cmd.AddCommand(&cobra.Command{
		Use:   "panels <work-job-id>",
		Short: "List paint panels of a work job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				panels, err := e.ListPaintPanels(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(panels)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "advance-panel <panel-id>",
		Short: "Move a paint panel to its next stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				panel, err := e.AdvancePanel(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(panel)
			})
		},
	})
	return cmd
}

func qcCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "qc", Short: "Quality control"}
	var in engine.QCInput
	var fail bool
	var grade string
	submit := &cobra.Command{
		Use:   "submit <device-id>",
		Short: "Record a QC verdict (pass with --grade, or --fail)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.DeviceID = args[0]
			in.Passed = !fail
			in.Grade = domain.Grade(strings.ToUpper(grade))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				rec, err := e.SubmitQC(ctx, p, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	submit.Flags().BoolVar(&fail, "fail", false, "fail the device back to repair")
	submit.Flags().StringVar(&grade, "grade", "", "A or B (required on pass)")
	submit.Flags().StringVar(&in.Remarks, "remarks", "", "remarks")
	cmd.AddCommand(submit)
	cmd.AddCommand(&cobra.Command{
		Use:   "history <device-id>",
		Short: "List QC records of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				recs, err := e.ListQCRecords(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(recs)
			})
		},
	})
	return cmd
}
