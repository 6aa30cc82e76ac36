package main

import (
	"fmt"

	"github.com/bitrise-io/go-kodo/etag"
	"github.com/bitrise-io/go-kodo/region"
	"github.com/bitrise-io/go-kodo/s3compat"
	"github.com/bitrise-io/go-kodo/storage"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

func newEtagCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "etag <file>...",
		Short: "Print the content hash of local files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				hash, err := etag.FromFile(path)
				if err != nil {
					return a.fail(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", hash, path)
			}
			return nil
		},
	}
}

func newStatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <bucket> <key>",
		Short: "Print the metadata of an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.storageClient()
			if err != nil {
				return a.fail(err)
			}
			info, err := client.Bucket(args[0]).Object(args[1]).Stat(cmd.Context())
			if err != nil {
				return a.fail(err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Size:     %s (%d bytes)\n", units.HumanSizeWithPrecision(float64(info.Size), 3), info.Size)
			fmt.Fprintf(out, "Hash:     %s\n", info.Hash)
			fmt.Fprintf(out, "MIME:     %s\n", info.MIME)
			fmt.Fprintf(out, "Uploaded: %s\n", info.UploadedAt().Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <bucket> <key>...",
		Short: "Delete objects",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.storageClient()
			if err != nil {
				return a.fail(err)
			}
			bucket := client.Bucket(args[0])
			for _, key := range args[1:] {
				if err := bucket.Object(key).Delete(cmd.Context()); err != nil {
					return a.fail(err)
				}
				a.logger.Donef("Deleted %s", key)
			}
			return nil
		},
	}
}

func newBucketsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "buckets",
		Short: "List the buckets of the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.storageClient()
			if err != nil {
				return a.fail(err)
			}
			names, err := client.BucketNames(cmd.Context())
			if err != nil {
				return a.fail(err)
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newS3GetCmd(a *app) *cobra.Command {
	var regionID string
	cmd := &cobra.Command{
		Use:   "s3-get <bucket> <key> <destination>",
		Short: "Download an object through the S3 compatible endpoint",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.credential(); err != nil {
				return a.fail(err)
			}
			client, err := s3compat.New(cmd.Context(), a.cfg, args[0], region.ID(regionID), s3compat.WithLogger(a.logger))
			if err != nil {
				return a.fail(err)
			}
			if err := client.Download(cmd.Context(), args[1], args[2]); err != nil {
				return a.fail(err)
			}
			a.logger.Donef("Downloaded %s to %s", args[1], args[2])
			return nil
		},
	}
	cmd.Flags().StringVar(&regionID, "region", string(region.Z0), "region of the bucket")
	return cmd
}

func (a *app) storageClient() (*storage.Client, error) {
	cred, err := a.credential()
	if err != nil {
		return nil, err
	}
	return storage.NewClient(cred, a.cfg, storage.WithLogger(a.logger)), nil
}
