package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kemonod/pkg/config"
	"kemonod/pkg/filter"
	"kemonod/pkg/kemono"
	"kemonod/pkg/registry"
	"kemonod/pkg/timer"
)

var (
	addAlias  string
	addName   string
	timerSpec string
	noGlobal  bool
	checkAll  bool

	filterKeywords []string
	filterExclude  []string
	filterAfter    string
	filterBefore   string
	filterFiles    bool
	filterImages   bool
	filterVideos   bool
	filterAttach   bool
	filterNoGlobal bool
)

// artistCmd represents the artist command
var artistCmd = &cobra.Command{
	Use:   "artist",
	Short: "Manage tracked creators",
	Long: `Manage the set of tracked creators.

Creators are stored in a JSON registry file together with their check
schedule, filter and download watermark.`,
}

// artistAddCmd represents the artist add command
var artistAddCmd = &cobra.Command{
	Use:   "add <url | service user_id>",
	Short: "Track a new creator",
	Long: `Track a new creator, either by their page URL or by service and
user id. The display name is fetched from the platform unless --name is
given.`,
	Example: `  # Add by page URL
  kemonod artist add https://kemono.cr/patreon/user/12345

  # Add by service and user id, with an alias
  kemonod artist add fanbox 67890 --alias someone`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runArtistAdd,
}

// artistRemoveCmd represents the artist remove command
var artistRemoveCmd = &cobra.Command{
	Use:   "remove <name | alias | service/user_id>",
	Short: "Stop tracking a creator",
	Long:  `Stop tracking a creator. Downloaded files are left in place.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runArtistRemove,
}

// artistListCmd represents the artist list command
var artistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked creators",
	RunE:  runArtistList,
}

// artistCheckCmd represents the artist check command
var artistCheckCmd = &cobra.Command{
	Use:   "check <name | alias | service/user_id>",
	Short: "Check a creator for new posts now",
	Long: `Run one check cycle for a creator immediately, ignoring its timer.
New posts are filtered and downloaded the same way the monitor loop
would. With --all, every tracked creator is checked in turn.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runArtistCheck,
}

// artistFilterCmd represents the artist filter command
var artistFilterCmd = &cobra.Command{
	Use:   "filter <name | alias | service/user_id>",
	Short: "Set a creator's post filter",
	Long: `Set which of a creator's posts are downloaded. The flags combine into
one filter that replaces the creator's current one; running the command
with no flags clears it.

The global filter from the config file still applies on top unless
--no-global-filter is given, in which case this filter is the only one
consulted.`,
	Example: `  kemonod artist filter someone --keyword wallpaper --keyword psd
  kemonod artist filter someone --exclude wip --after 2026-01-01
  kemonod artist filter someone --require-videos --no-global-filter
  kemonod artist filter someone`,
	Args: cobra.ExactArgs(1),
	RunE: runArtistFilter,
}

// artistTimerCmd represents the artist timer command
var artistTimerCmd = &cobra.Command{
	Use:   "timer <name | alias | service/user_id | global> <spec>",
	Short: "Set a creator's check schedule",
	Long: `Set a creator's own check schedule, overriding the global one. With
"global" as the target, the global schedule in the config file is
updated instead.

The spec is one of:
  daily@HH:MM
  weekly@HH:MM,WEEKDAY     (0=Monday ... 6=Sunday)
  monthly@HH:MM,DAY        (1-31, clamped in shorter months)
  global                   (revert the creator to the global schedule)`,
	Example: `  kemonod artist timer someone daily@02:00
  kemonod artist timer someone weekly@14:30,5
  kemonod artist timer someone global
  kemonod artist timer global daily@03:00`,
	Args: cobra.ExactArgs(2),
	RunE: runArtistTimer,
}

func init() {
	rootCmd.AddCommand(artistCmd)
	artistCmd.AddCommand(artistAddCmd)
	artistCmd.AddCommand(artistRemoveCmd)
	artistCmd.AddCommand(artistListCmd)
	artistCmd.AddCommand(artistCheckCmd)
	artistCmd.AddCommand(artistFilterCmd)
	artistCmd.AddCommand(artistTimerCmd)

	artistAddCmd.Flags().StringVar(&addAlias, "alias", "", "alias used in folder names and commands")
	artistAddCmd.Flags().StringVar(&addName, "name", "", "display name (skips the profile lookup)")
	artistAddCmd.Flags().StringVar(&timerSpec, "timer", "", "check schedule (e.g. daily@02:00)")
	artistAddCmd.Flags().BoolVar(&noGlobal, "no-global-filter", false, "do not apply the global filter to this creator")

	artistCheckCmd.Flags().BoolVar(&checkAll, "all", false, "check every tracked creator")

	artistFilterCmd.Flags().StringSliceVar(&filterKeywords, "keyword", nil, "title must contain one of these (repeatable)")
	artistFilterCmd.Flags().StringSliceVar(&filterExclude, "exclude", nil, "title must not contain any of these (repeatable)")
	artistFilterCmd.Flags().StringVar(&filterAfter, "after", "", "only posts published after this date (YYYY-MM-DD, exclusive)")
	artistFilterCmd.Flags().StringVar(&filterBefore, "before", "", "only posts published before this date (YYYY-MM-DD, exclusive)")
	artistFilterCmd.Flags().BoolVar(&filterFiles, "require-files", false, "only posts with at least one file")
	artistFilterCmd.Flags().BoolVar(&filterImages, "require-images", false, "only posts with at least one image")
	artistFilterCmd.Flags().BoolVar(&filterVideos, "require-videos", false, "only posts with at least one video")
	artistFilterCmd.Flags().BoolVar(&filterAttach, "require-attachments", false, "only posts with at least one attachment")
	artistFilterCmd.Flags().BoolVar(&filterNoGlobal, "no-global-filter", false, "do not apply the global filter on top")
}

func runArtistAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	var service, userID string
	if len(args) == 1 {
		service, userID, err = kemono.ParseCreatorURL(args[0])
		if err != nil {
			return err
		}
	} else {
		service, userID = args[0], args[1]
	}

	name := addName
	if name == "" {
		client := kemono.NewClient(cfg.Platform.BaseURL, cfg.Platform.RequestTimeout, log)
		client.SetRateLimit(cfg.Platform.RequestsPerMinute)
		attachSession(client, log)

		profile, err := client.FetchProfile(service, userID)
		if err != nil {
			return fmt.Errorf("failed to fetch profile (use --name to skip the lookup): %w", err)
		}
		name = profile.Name
	}

	artist := &registry.Artist{
		Name:            name,
		Alias:           addAlias,
		Service:         service,
		UserID:          userID,
		URL:             kemono.CreatorURL(cfg.Platform.BaseURL, service, userID),
		UseGlobalFilter: !noGlobal,
	}

	if timerSpec != "" {
		schedule, err := parseTimerSpec(timerSpec)
		if err != nil {
			return err
		}
		artist.Timer = schedule
	}

	orch, _, err := buildOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	if err := orch.Register(artist); err != nil {
		return err
	}

	fmt.Printf("Tracking %s (%s/%s)\n", artist.DisplayName(), service, userID)
	return nil
}

func runArtistRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	orch, store, err := buildOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	artist, ok := store.Find(args[0])
	if !ok {
		return fmt.Errorf("no tracked creator matches %q", args[0])
	}

	if err := orch.Deregister(artist.ID); err != nil {
		return err
	}

	fmt.Printf("Stopped tracking %s (%s)\n", artist.DisplayName(), artist.Key())
	return nil
}

func runArtistList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	orch, store, err := buildOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	if store.Len() == 0 {
		fmt.Println("No creators tracked.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSERVICE\tUSER\tLAST POST\tTIMER\tNEXT DUE")
	for _, status := range orch.List() {
		a := status.Artist
		lastPost := a.LastPostDate
		if lastPost == "" {
			lastPost = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.DisplayName(), a.Service, a.UserID, lastPost, describeTimer(a), status.NextDue)
	}
	return w.Flush()
}

func runArtistCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	orch, store, err := buildOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	var targets []*registry.Artist
	if checkAll {
		targets = store.All()
		if len(targets) == 0 {
			fmt.Println("No creators tracked.")
			return nil
		}
	} else {
		if len(args) == 0 {
			return fmt.Errorf("specify a creator or use --all")
		}
		artist, ok := store.Find(args[0])
		if !ok {
			return fmt.Errorf("no tracked creator matches %q", args[0])
		}
		targets = []*registry.Artist{artist}
	}

	for _, artist := range targets {
		stats, err := orch.CheckOnce(cmd.Context(), artist.ID)
		if err != nil {
			return err
		}

		fmt.Printf("%s: %d new posts, %d matched filters, %d files downloaded, %d skipped, %d failed\n",
			artist.DisplayName(), stats.PostsSeen, stats.PostsMatched,
			stats.FilesDownloaded, stats.FilesSkipped, stats.FilesFailed)
	}
	return nil
}

func runArtistFilter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	orch, store, err := buildOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	artist, ok := store.Find(args[0])
	if !ok {
		return fmt.Errorf("no tracked creator matches %q", args[0])
	}

	spec, err := buildFilterSpec(filterKeywords, filterExclude, filterAfter, filterBefore,
		filterFiles, filterImages, filterVideos, filterAttach)
	if err != nil {
		return err
	}

	if err := orch.SetFilter(artist.ID, spec, !filterNoGlobal); err != nil {
		return err
	}

	if spec == nil {
		fmt.Printf("Filter for %s cleared\n", artist.DisplayName())
	} else {
		fmt.Printf("Filter for %s updated\n", artist.DisplayName())
	}
	return nil
}

// buildFilterSpec assembles a filter from the command's flag values. An
// entirely empty set of flags yields nil, clearing the creator's filter.
func buildFilterSpec(keywords, exclude []string, after, before string,
	files, images, videos, attachments bool) (*filter.Spec, error) {
	spec := &filter.Spec{
		Keywords:           keywords,
		ExcludeKeywords:    exclude,
		DateAfter:          after,
		DateBefore:         before,
		RequireFiles:       files,
		RequireImages:      images,
		RequireVideos:      videos,
		RequireAttachments: attachments,
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.IsZero() {
		return nil, nil
	}
	return spec, nil
}

func runArtistTimer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	if args[0] == "global" {
		return setGlobalTimer(cfg, args[1])
	}

	orch, store, err := buildOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	artist, ok := store.Find(args[0])
	if !ok {
		return fmt.Errorf("no tracked creator matches %q", args[0])
	}

	var schedule *timer.Schedule
	if args[1] != "global" {
		schedule, err = parseTimerSpec(args[1])
		if err != nil {
			return err
		}
	}

	if err := orch.SetTimer(artist.ID, schedule); err != nil {
		return err
	}

	fmt.Printf("Timer for %s set to %s\n", artist.DisplayName(), args[1])
	return nil
}

// setGlobalTimer updates the global schedule in the config file.
func setGlobalTimer(cfg *config.Config, spec string) error {
	schedule, err := parseTimerSpec(spec)
	if err != nil {
		return err
	}

	path := configFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "kemonod", "config.yaml")
	}

	cfg.Scheduler.GlobalTimer = *schedule
	if err := cfg.Save(path); err != nil {
		return err
	}

	fmt.Printf("Global timer set to %s in %s\n", spec, path)
	return nil
}

// parseTimerSpec parses the CLI schedule syntax, e.g. "daily@02:00",
// "weekly@14:30,5" or "monthly@09:00,15".
func parseTimerSpec(spec string) (*timer.Schedule, error) {
	kind, rest, found := strings.Cut(spec, "@")
	if !found {
		return nil, fmt.Errorf("invalid timer spec %q: expected TYPE@HH:MM[,DAY]", spec)
	}

	schedule := &timer.Schedule{}

	timePart, dayPart, hasDay := strings.Cut(rest, ",")
	schedule.Time = timePart

	switch kind {
	case "daily":
		schedule.Type = timer.Daily
		if hasDay {
			return nil, fmt.Errorf("daily timers take no day argument")
		}
	case "weekly":
		schedule.Type = timer.Weekly
		if !hasDay {
			return nil, fmt.Errorf("weekly timers need a weekday (0=Monday ... 6=Sunday)")
		}
		if _, err := fmt.Sscanf(dayPart, "%d", &schedule.Day); err != nil {
			return nil, fmt.Errorf("invalid weekday %q", dayPart)
		}
	case "monthly":
		schedule.Type = timer.Monthly
		if !hasDay {
			return nil, fmt.Errorf("monthly timers need a day of month (1-31)")
		}
		if _, err := fmt.Sscanf(dayPart, "%d", &schedule.Day); err != nil {
			return nil, fmt.Errorf("invalid day of month %q", dayPart)
		}
	default:
		return nil, fmt.Errorf("unknown timer type %q: expected daily, weekly or monthly", kind)
	}

	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	return schedule, nil
}

// describeTimer renders a creator's schedule for the list output.
func describeTimer(a *registry.Artist) string {
	if a.Timer == nil {
		return "global"
	}

	switch a.Timer.Type {
	case timer.Daily:
		return fmt.Sprintf("daily@%s", a.Timer.Time)
	case timer.Weekly:
		return fmt.Sprintf("weekly@%s,%d", a.Timer.Time, a.Timer.Day)
	case timer.Monthly:
		return fmt.Sprintf("monthly@%s,%d", a.Timer.Time, a.Timer.Day)
	default:
		return string(a.Timer.Type)
	}
}
