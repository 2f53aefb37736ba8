package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/jsonmessage"
)

func (r *DockerRuntime) BuildImage(ctx context.Context, tag, dockerfile string, files map[string]string, progress ProgressFunc) error {
	buildCtx, err := tarBuildContext(dockerfile, files)
	if err != nil {
		return err
	}

	resp, err := r.cli.ImageBuild(ctx, buildCtx, dockertypes.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return categorize(err, "failed to start image build")
	}
	defer resp.Body.Close()

	if err := aggregateBuildProgress(resp.Body, progress); err != nil {
		return err
	}

	r.logger.Info().Str("tag", tag).Msg("image built")
	return nil
}

// tarBuildContext packs the Dockerfile and build files into the tar stream
// the engine expects as a build context.
func tarBuildContext(dockerfile string, files map[string]string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	write := func(name, content string) error {
		hdr := &tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return fmt.Errorf("failed to write tar entry %s: %w", name, err)
		}
		return nil
	}

	if err := write("Dockerfile", dockerfile); err != nil {
		return nil, err
	}
	for name, content := range files {
		if err := write(name, content); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize build context: %w", err)
	}
	return &buf, nil
}

var buildStepRe = regexp.MustCompile(`^Step (\d+)/(\d+)`)

// aggregateBuildProgress consumes the engine's build output stream. Progress
// is derived from "Step i/n" markers; streams without them report status
// lines only.
func aggregateBuildProgress(r io.Reader, progress ProgressFunc) error {
	dec := json.NewDecoder(r)
	lastPercent := -1

	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to decode build output: %w", err)
		}
		if msg.Error != nil {
			return fmt.Errorf("build failed: %s", msg.Error.Message)
		}

		line := strings.TrimSpace(msg.Stream)
		if line == "" {
			continue
		}

		percent := lastPercent
		if m := buildStepRe.FindStringSubmatch(line); m != nil {
			step, _ := strconv.Atoi(m[1])
			total, _ := strconv.Atoi(m[2])
			if total > 0 {
				percent = step * 100 / total
				if percent > 99 {
					// Hold 100 until the build stream actually ends.
					percent = 99
				}
			}
		}
		if percent != lastPercent {
			lastPercent = percent
			progress(percent, line)
		}
	}
}
