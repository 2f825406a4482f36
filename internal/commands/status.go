package commands

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

func (h *Handler) status(ctx context.Context, i *discordgo.InteractionCreate) (*discordgo.MessageEmbed, error) {
	cfg := h.deps.Config.Get(ctx, i.GuildID)

	protection := "Disabled"
	if cfg.Enabled {
		protection = "**Enabled**"
	}

	tracked := 0
	if h.deps.TrackedKeys != nil {
		tracked = h.deps.TrackedKeys()
	}
	queued := 0
	if h.deps.Queue != nil {
		queued = h.deps.Queue.Len()
	}

	fields := []*discordgo.MessageEmbedField{
		field("Protection", protection, true),
		field("Time Window", fmt.Sprintf("`%d` seconds", cfg.TimeFrame), true),
		field("Bot Uptime", formatDuration(time.Since(h.started)), true),
		field("Tracked Windows", fmt.Sprintf("%d", tracked), true),
		field("Queued Commands", fmt.Sprintf("%d", queued), true),
		field("Goroutines", fmt.Sprintf("%d", runtime.NumGoroutine()), true),
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		fields = append(fields, field("Host Memory",
			fmt.Sprintf("%.1f / %.1f GiB (%.0f%%)", gib(vm.Used), gib(vm.Total), vm.UsedPercent), true))
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		fields = append(fields,
			field("Host", fmt.Sprintf("%s (%s %s)", info.Hostname, info.Platform, info.PlatformVersion), true),
			field("Host Uptime", formatDuration(time.Duration(info.Uptime)*time.Second), true),
		)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	fields = append(fields, field("Heap", fmt.Sprintf("%.1f MiB", float64(ms.HeapAlloc)/(1<<20)), true))

	return infoEmbed("System Status Overview", "Protection configuration and runtime health.", fields...), nil
}

func gib(b uint64) float64 {
	return float64(b) / (1 << 30)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days > 0 {
		return fmt.Sprintf("%dd %s", days, d)
	}
	return d.String()
}
