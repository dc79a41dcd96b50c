package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/vidoc/internal/cli"
	"github.com/jackzampolin/vidoc/internal/convert"
	"github.com/jackzampolin/vidoc/internal/video"
)

var probeCmd = &cobra.Command{
	Use:   "probe <video|frame-directory>",
	Short: "Print input metadata",
	Long: `Print the size, frame rate, duration and frame count of a video
(read with ffprobe) or a frame directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		st, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%w: %s", convert.ErrInputNotFound, path)
		}

		var info *video.Info
		if st.IsDir() {
			src, err := video.OpenDir(path, video.DirConfig{FPS: cfgMgr.Get().DirFPS, Logger: logger})
			if err != nil {
				return err
			}
			info = src.Info()
			_ = src.Close()
		} else if info, err = video.Probe(cmd.Context(), path); err != nil {
			return err
		}

		if output.Structured() {
			return cli.Output(output, info)
		}
		cli.PrintInfo(os.Stdout, info)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
