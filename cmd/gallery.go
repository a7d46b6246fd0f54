package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/detector"
	"github.com/kozaktomas/face-attendance/internal/frames"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect and manage the face gallery",
}

var galleryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	Args:  cobra.NoArgs,
	RunE:  runGalleryList,
}

var galleryPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Copy the gallery directory into PostgreSQL",
	Long: `Read every <gallery.root>/<identity>/embeddings.csv and replace the stored
vectors of each identity in PostgreSQL. Identities only present in the database
are left untouched.`,
	Args: cobra.NoArgs,
	RunE: runGalleryPush,
}

var galleryMatchCmd = &cobra.Command{
	Use:   "match <image>",
	Short: "Recognize the faces in an image against the gallery",
	Args:  cobra.ExactArgs(1),
	RunE:  runGalleryMatch,
}

var galleryNearestCmd = &cobra.Command{
	Use:   "nearest <image>",
	Short: "List the stored embeddings closest to each face in an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runGalleryNearest,
}

func init() {
	rootCmd.AddCommand(galleryCmd)
	galleryCmd.AddCommand(galleryListCmd, galleryPushCmd, galleryMatchCmd, galleryNearestCmd)

	galleryListCmd.Flags().Bool("json", false, "Output as JSON")
	galleryMatchCmd.Flags().Bool("json", false, "Output as JSON")
	galleryNearestCmd.Flags().Int("limit", 5, "Neighbors per face")
}

func runGalleryList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Close()

	ctx := cmd.Context()
	var pool *postgres.Pool
	if cfg.Gallery.Source == "postgres" {
		if pool, err = requireDatabase(ctx, cfg, log); err != nil {
			return err
		}
		defer pool.Close()
	}

	entries, err := loadGallery(ctx, cfg, pool)
	if err != nil {
		return err
	}
	summary := gallery.Summarize(entries)

	if mustGetBool(cmd, "json") {
		return json.NewEncoder(os.Stdout).Encode(summary)
	}

	names := make([]string, 0, len(summary.Identities))
	for name := range summary.Identities {
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Printf("%d identities, %d embeddings, dimension %d\n", len(names), summary.Entries, summary.Dim)
	for _, name := range names {
		fmt.Printf("  %-30s %d\n", name, summary.Identities[name])
	}
	return nil
}

func runGalleryPush(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Close()

	entries, err := gallery.Load(cfg.Gallery.Root)
	if err != nil {
		return fmt.Errorf("loading %s: %w", cfg.Gallery.Root, err)
	}

	ctx := cmd.Context()
	pool, err := requireDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()
	repo := postgres.NewGalleryRepository(pool)

	var order []string
	byIdentity := make(map[string][][]float32)
	for _, e := range entries {
		if _, ok := byIdentity[e.Identity]; !ok {
			order = append(order, e.Identity)
		}
		byIdentity[e.Identity] = append(byIdentity[e.Identity], e.Embedding)
	}

	bar := progressbar.NewOptions(len(order),
		progressbar.OptionSetDescription("Pushing gallery"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("identities"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	start := time.Now()
	for _, identity := range order {
		if err := repo.ReplaceIdentity(ctx, identity, byIdentity[identity], cfg.Gallery.Root); err != nil {
			bar.Exit()
			return fmt.Errorf("pushing %s: %w", identity, err)
		}
		bar.Add(1)
	}
	bar.Finish()

	fmt.Printf("\nPushed %d embeddings of %d identities in %s\n", len(entries), len(order), time.Since(start).Round(time.Millisecond))
	return nil
}

type faceMatchOutput struct {
	Face       int     `json:"face"`
	Box        [4]int  `json:"box"`
	Match      string  `json:"match"`
	Similarity float64 `json:"similarity"`
	Decision   string  `json:"decision"`
}

func runGalleryMatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Close()

	ctx := cmd.Context()
	pool, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	entries, err := loadGallery(ctx, cfg, pool)
	if err != nil {
		return err
	}
	idx, err := buildIndex(cfg, entries, log)
	if err != nil {
		return err
	}
	policy := recognition.NewPolicy(cfg.Match.Threshold)

	faces, err := detectImageFaces(cmd, args[0], cfg.Detector.URL, cfg.Detector.Timeout)
	if err != nil {
		return err
	}

	results := make([]faceMatchOutput, 0, len(faces))
	for _, f := range faces {
		m := idx.Query(f.Embedding)
		results = append(results, faceMatchOutput{
			Face:       f.Index,
			Box:        f.Box.Coords(),
			Match:      m.Identity,
			Similarity: m.Similarity,
			Decision:   policy.Decide(m),
		})
	}

	if mustGetBool(cmd, "json") {
		return json.NewEncoder(os.Stdout).Encode(results)
	}
	if len(results) == 0 {
		fmt.Println("No faces detected")
		return nil
	}
	for _, r := range results {
		fmt.Printf("Face %d %v: best %s (%.4f) -> %s\n", r.Face, r.Box, r.Match, r.Similarity, r.Decision)
	}
	return nil
}

func runGalleryNearest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Close()

	ctx := cmd.Context()
	pool, err := requireDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()
	repo := postgres.NewGalleryRepository(pool)

	faces, err := detectImageFaces(cmd, args[0], cfg.Detector.URL, cfg.Detector.Timeout)
	if err != nil {
		return err
	}
	if len(faces) == 0 {
		fmt.Println("No faces detected")
		return nil
	}

	limit := mustGetInt(cmd, "limit")
	for _, f := range faces {
		neighbors, err := repo.Nearest(ctx, f.Embedding, limit)
		if err != nil {
			return fmt.Errorf("face %d: %w", f.Index, err)
		}
		fmt.Printf("Face %d %v:\n", f.Index, f.Box.Coords())
		for _, n := range neighbors {
			fmt.Printf("  %-30s %.4f (row %d)\n", n.Identity, n.Similarity, n.ID)
		}
	}
	return nil
}

// detectImageFaces reads one image and returns its detected faces.
func detectImageFaces(cmd *cobra.Command, path, url string, timeout time.Duration) ([]detector.Face, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is a command argument
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	frame, err := frames.NewFrame(1, path, data, time.Now())
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	faces, err := detector.NewFaceClient(url, timeout).DetectFaces(cmd.Context(), frame.Data)
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}
	return faces, nil
}
