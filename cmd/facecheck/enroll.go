package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrCodeEU/facecheck/pkg/enrollment"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
	"github.com/MrCodeEU/facecheck/pkg/source"
)

var (
	enrollPose    string
	enrollWorkers int
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <identity> <image>",
	Short: "Enroll one face image for an identity",
	Long: `Stores a template for the identity. The pose is detected from the
face unless --pose is given. Re-enrolling a pose replaces its template.`,
	Args: cobra.ExactArgs(2),
	RunE: runEnroll,
}

var enrollDirCmd = &cobra.Command{
	Use:   "enroll-dir <dir>",
	Short: "Enroll every image under <dir>/<identity>/",
	Long: `Walks one sub-directory per identity. Files named after a pose
(front.jpg, left.png, ...) are stored under that pose; any other image
has its pose detected.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollDir,
}

func init() {
	enrollCmd.Flags().StringVar(&enrollPose, "pose", "", "Pose label (front, left, right, up, down)")
	enrollDirCmd.Flags().IntVar(&enrollWorkers, "workers", 4, "Images processed concurrently")
	rootCmd.AddCommand(enrollCmd, enrollDirCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	identity, path := args[0], args[1]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, err := a.enroller.Enroll(ctx, enrollment.Request{Identity: identity, Image: data, Pose: enrollPose})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Enrolled '%s' pose %s (quality %.1f)\n", identity, res.Pose, res.Quality)
	if res.Complete {
		fmt.Fprintln(out, "All required poses are enrolled.")
	} else {
		fmt.Fprintf(out, "Missing poses: %s\n", strings.Join(res.Missing, ", "))
	}
	return nil
}

// enrollJob is one image found by enroll-dir.
type enrollJob struct {
	identity string
	pose     string
	path     string
}

// scanEnrollDir lists <dir>/<identity>/<image> files in a stable order.
func scanEnrollDir(dir string) ([]enrollJob, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var jobs []enrollJob
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		identity := entry.Name()
		files, err := os.ReadDir(filepath.Join(dir, identity))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() || !source.IsImage(f.Name()) {
				continue
			}
			stem := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
			pose := ""
			if p, err := recognition.ParsePose(stem); err == nil {
				pose = string(p)
			}
			jobs = append(jobs, enrollJob{
				identity: identity,
				pose:     pose,
				path:     filepath.Join(dir, identity, f.Name()),
			})
		}
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].path < jobs[j].path })
	return jobs, nil
}

func runEnrollDir(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	jobs, err := scanEnrollDir(args[0])
	if err != nil {
		return fmt.Errorf("failed to scan directory: %w", err)
	}
	if len(jobs) == 0 {
		return fmt.Errorf("no images found under %s", args[0])
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	bar := progressbar.NewOptions(len(jobs),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	var (
		mu       sync.Mutex
		failures []string
		complete = map[string]bool{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(enrollWorkers, 1))
	for _, job := range jobs {
		g.Go(func() error {
			defer func() { _ = bar.Add(1) }()

			data, err := os.ReadFile(job.path)
			if err == nil {
				var res *enrollment.Result
				res, err = a.enroller.Enroll(gctx, enrollment.Request{Identity: job.identity, Image: data, Pose: job.pose})
				if err == nil {
					mu.Lock()
					complete[job.identity] = complete[job.identity] || res.Complete
					mu.Unlock()
					return nil
				}
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}

			logging.WithError(err).WithField("file", job.path).Warn("Enrollment failed")
			mu.Lock()
			failures = append(failures, fmt.Sprintf("%s: %v", job.path, err))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	_ = bar.Finish()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	done := 0
	for _, ok := range complete {
		if ok {
			done++
		}
	}
	fmt.Fprintf(out, "Enrolled %d of %d image(s), %d of %d identities complete\n",
		len(jobs)-len(failures), len(jobs), done, len(complete))
	sort.Strings(failures)
	for _, f := range failures {
		fmt.Fprintf(out, "  failed %s\n", f)
	}
	return nil
}
