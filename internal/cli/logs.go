package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	logsTail     int
	logsFollow   bool
	logsInterval time.Duration
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the session log",
	Long: `Prints the last lines of .autocoder/logs/autocoder.log, which every
init and start appends to.

With --follow, keeps printing new lines as they are written.

Example:
  autocoder logs
  autocoder logs --tail 200
  autocoder logs -f`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "number of lines to show")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "watch for new lines")
	logsCmd.Flags().DurationVar(&logsInterval, "interval", time.Second, "poll interval for --follow")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	basePath, err := getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	path := LogPath(basePath)
	out := cmd.OutOrStdout()

	lines, offset, err := tailFile(path, logsTail)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(out, "No log yet (%s).\n", path)
		if !logsFollow {
			return nil
		}
	} else if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}

	if !logsFollow {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return followFile(ctx, out, path, offset, logsInterval)
}

// tailFile returns the last n lines of path and the offset of its end.
func tailFile(path string, n int) ([]string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read log: %w", err)
	}
	if n <= 0 {
		lines = nil
	}

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read log: %w", err)
	}
	return lines, offset, nil
}

// followFile polls path and copies anything written past offset to out.
// A file that shrinks is read again from the start.
func followFile(ctx context.Context, out io.Writer, path string, offset int64, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.Size() < offset {
				offset = 0
			}
			if info.Size() == offset {
				continue
			}
			f, err := os.Open(path)
			if err != nil {
				continue
			}
			if _, err := f.Seek(offset, io.SeekStart); err == nil {
				n, _ := io.Copy(out, f)
				offset += n
			}
			f.Close()
		}
	}
}
