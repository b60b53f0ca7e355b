package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/notify/internal/s3"
)

func listCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List job objects in the bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 0
			for key := range a.gateway.ListJobObjects(cmd.Context()) {
				serviceID, jobID, err := s3.ParseObjectKey(key)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t(unrecognised)\n", key)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", serviceID, jobID, key)
				n++
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d jobs\n", n)
			return nil
		},
	}
}

func rowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "row <service-id> <job-id> <row>",
		Short: "Show the phone number and personalisation of one job row",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := strconv.Atoi(args[2])
			if err != nil || row < 0 {
				return fmt.Errorf("row must be a non-negative integer, got %q", args[2])
			}

			ctx := cmd.Context()
			personalisation, _ := a.gateway.Personalisation(ctx, args[0], args[1], row)

			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			return out.Encode(map[string]any{
				"phone_number":    a.gateway.PhoneNumber(ctx, args[0], args[1], row),
				"personalisation": sortedFields(personalisation),
			})
		},
	}
}

func downloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "download <key> <path>",
		Short: "Download an object to a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.gateway.DownloadFileToLocal(cmd.Context(), a.bucket, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "downloaded %s to %s\n", args[0], args[1])
			return nil
		},
	}
}

func uploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <service-id> <job-id> <file>",
		Short: "Upload a local CSV as a job",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[2])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[2], err)
			}
			if err := a.gateway.PutJob(cmd.Context(), args[0], args[1], string(body)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s\n", s3.JobObjectKey(args[0], args[1]))
			return nil
		},
	}
}

func removeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <service-id> <job-id>",
		Short: "Delete a job CSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.gateway.RemoveJob(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", s3.JobObjectKey(args[0], args[1]))
			return nil
		},
	}
}

func warmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Read every job in the bucket and report how many parse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.gateway.WarmCache(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d jobs (%d cache entries)\n", n, a.cache.Len())
			return nil
		},
	}
}

type field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func sortedFields(m map[string]string) []field {
	out := make([]field, 0, len(m))
	for k, v := range m {
		out = append(out, field{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
