package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var a app

	root := &cobra.Command{
		Use:     "jobctl",
		Short:   "Inspect and manage job CSVs in the upload bucket",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&a.bucket, "bucket", "", "Bucket name (default from CSV_UPLOAD_BUCKET)")
	root.PersistentFlags().StringVar(&a.region, "region", "", "Bucket region (default from CSV_UPLOAD_REGION)")
	root.PersistentFlags().StringVar(&a.endpoint, "endpoint", "", "Custom S3 endpoint, for localstack or minio")

	root.AddCommand(listCmd(&a))
	root.AddCommand(rowCmd(&a))
	root.AddCommand(downloadCmd(&a))
	root.AddCommand(uploadCmd(&a))
	root.AddCommand(removeCmd(&a))
	root.AddCommand(warmCmd(&a))

	return root
}
