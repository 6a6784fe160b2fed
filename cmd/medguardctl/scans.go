package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var photoRoles = []string{"front", "back", "left", "right", "barcode"}

// addPhotoFlags registers one path flag per photo role.
func addPhotoFlags(cmd *cobra.Command, paths map[string]*string) {
	for _, role := range photoRoles {
		p := new(string)
		paths[role] = p
		cmd.Flags().StringVar(p, role, "", fmt.Sprintf("path to the %s photo", role))
	}
}

func selectedPhotos(paths map[string]*string) map[string]string {
	out := make(map[string]string)
	for role, p := range paths {
		if *p != "" {
			out[role] = *p
		}
	}
	return out
}

func newScanCmd() *cobra.Command {
	paths := make(map[string]*string)
	var wait bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Submit photos as one batch scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			photos := selectedPhotos(paths)
			if len(photos) == 0 {
				return fmt.Errorf("at least one photo flag is required")
			}

			client := getClient()
			ctx := cmd.Context()

			created, err := client.SubmitBatch(ctx, photos)
			if err != nil {
				return err
			}

			if !wait {
				if flagJSON {
					printJSON(created)
					return nil
				}
				eta := "unknown"
				if created.EstimatedTimeSeconds != nil {
					eta = strconv.Itoa(*created.EstimatedTimeSeconds) + "s"
				}
				printMessage(fmt.Sprintf("Scan %s submitted (status: %s, estimated time: %s)", created.ScanID, created.Status, eta))
				return nil
			}

			res, err := client.WaitForResult(ctx, created.ScanID, getPollInterval())
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}

	addPhotoFlags(cmd, paths)
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the result is ready")
	return cmd
}

func newSequentialCmd() *cobra.Command {
	paths := make(map[string]*string)

	cmd := &cobra.Command{
		Use:   "sequential",
		Short: "Upload photos one at a time and finalize the scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			photos := selectedPhotos(paths)
			client := getClient()
			ctx := cmd.Context()

			created, err := client.StartScan(ctx)
			if err != nil {
				return err
			}
			if !flagJSON {
				printMessage(fmt.Sprintf("Scan %s started", created.ScanID))
			}

			if err := uploadInOrder(ctx, client, created.ScanID, photos); err != nil {
				return err
			}

			finished, err := client.Finish(ctx, created.ScanID)
			if err != nil {
				return err
			}
			printResult(finished.Result)
			return nil
		},
	}

	addPhotoFlags(cmd, paths)
	return cmd
}

// uploadInOrder sends photos in role order. A photo the server could not
// score is reported and skipped.
func uploadInOrder(ctx context.Context, client *Client, scanID string, photos map[string]string) error {
	for _, role := range photoRoles {
		path, ok := photos[role]
		if !ok {
			continue
		}

		resp, err := client.UploadPhoto(ctx, scanID, role, path)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Code == "inference_failed" {
				printMessage(fmt.Sprintf("  %-8s not scored: %s", role, apiErr.Message))
				continue
			}
			return fmt.Errorf("upload %s: %w", role, err)
		}
		if !flagJSON {
			printMessage(fmt.Sprintf("  %-8s %s (%.4f)", resp.PhotoType, resp.Prediction, resp.Score))
		}
	}
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <scan-id>",
		Short: "Show the processing status of a scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := getClient().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				printJSON(status)
				return nil
			}
			printTable([]string{"SCAN", "STATUS", "PROGRESS"}, [][]string{
				{status.ScanID, status.Status, strconv.Itoa(status.Progress) + "%"},
			})
			return nil
		},
	}
}

func newResultCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "result <scan-id>",
		Short: "Show the result of a scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := getClient()
			ctx := cmd.Context()

			if wait {
				res, err := client.WaitForResult(ctx, args[0], getPollInterval())
				if err != nil {
					return err
				}
				printResult(res)
				return nil
			}

			res, err := client.Result(ctx, args[0])
			if errors.Is(err, errPending) {
				printMessage("Scan is still processing")
				return nil
			}
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the result is ready")
	return cmd
}

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the reference drug catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := getClient().CatalogStats(cmd.Context())
			if err != nil {
				return err
			}
			if flagJSON {
				printJSON(stats)
				return nil
			}
			printTable([]string{"STATUS", "DRUGS", "SOURCE"}, [][]string{
				{stats.Status, strconv.Itoa(stats.DrugsCount), stats.Source},
			})
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "upload <file>",
		Short: "Replace the catalog with a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := getClient().UploadCatalog(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				printJSON(resp)
				return nil
			}
			printMessage(fmt.Sprintf("%v (%v drugs)", resp["message"], resp["drugs_count"]))
			return nil
		},
	})

	return cmd
}
