package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/detector"
	"github.com/kozaktomas/face-attendance/internal/frames"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <image-dir>",
	Short: "Compute gallery embeddings for one person",
	Long: `Send every image in <image-dir> to the face embedding server and store the
embedding of the first detected face. Images without a face are skipped.

By default the embeddings are written to <gallery.root>/<identity>/embeddings.csv,
where the identity defaults to the directory name. Use --in-place to write the
file into <image-dir> itself and --push to store the vectors in PostgreSQL too.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("identity", "", "Identity label (defaults to the directory name)")
	enrollCmd.Flags().Bool("in-place", false, "Write embeddings.csv into the image directory")
	enrollCmd.Flags().Bool("push", false, "Also store the embeddings in PostgreSQL")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Close()

	imageDir := filepath.Clean(args[0])
	identity := mustGetString(cmd, "identity")
	if identity == "" {
		identity = filepath.Base(imageDir)
	}
	if constants.IsReservedIdentity(identity) {
		return fmt.Errorf("%w: identity %q is reserved", gallery.ErrMalformed, identity)
	}

	outDir := filepath.Join(cfg.Gallery.Root, identity)
	if mustGetBool(cmd, "in-place") {
		outDir = imageDir
	}

	src, err := frames.NewDirSource(imageDir)
	if err != nil {
		return err
	}
	if src.Len() == 0 {
		return fmt.Errorf("no images found in %s", imageDir)
	}

	ctx := cmd.Context()
	faces := detector.NewFaceClient(cfg.Detector.URL, cfg.Detector.Timeout)

	fmt.Printf("Enrolling %s from %d images\n", identity, src.Len())
	vectors, skipped, err := embedImages(ctx, src, faces)
	if err != nil {
		return err
	}
	for _, s := range skipped {
		log.Warnf("Skipped %s", s)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("no faces found in %s", imageDir)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", outDir, err)
	}
	if err := gallery.WriteEmbeddings(outDir, vectors); err != nil {
		return err
	}
	fmt.Printf("Wrote %d embeddings to %s\n", len(vectors), filepath.Join(outDir, constants.EmbeddingsFileName))

	if mustGetBool(cmd, "push") {
		pool, err := requireDatabase(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgres.NewGalleryRepository(pool).ReplaceIdentity(ctx, identity, vectors, imageDir); err != nil {
			return fmt.Errorf("storing embeddings of %s: %w", identity, err)
		}
		fmt.Printf("Stored %d embeddings of %s in PostgreSQL\n", len(vectors), identity)
	}
	return nil
}

// embedImages returns the embedding of the first face of every image plus a
// description of each skipped image.
func embedImages(ctx context.Context, src *frames.DirSource, faces *detector.FaceClient) ([][]float32, []string, error) {
	bar := progressbar.NewOptions(src.Len(),
		progressbar.OptionSetDescription("Computing embeddings"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
	defer bar.Finish()

	var vectors [][]float32
	var skipped []string
	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			skipped = append(skipped, err.Error())
			bar.Add(1)
			continue
		}

		detected, err := faces.DetectFaces(ctx, frame.Data)
		switch {
		case err != nil:
			skipped = append(skipped, fmt.Sprintf("%s: %v", frame.Source, err))
		case len(detected) == 0:
			skipped = append(skipped, fmt.Sprintf("%s: no face detected", frame.Source))
		default:
			vectors = append(vectors, detected[0].Embedding)
		}
		bar.Add(1)
	}
	return vectors, skipped, nil
}
