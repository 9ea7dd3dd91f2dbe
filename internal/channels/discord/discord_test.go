package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestStripBotMention(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"<@987> how many apps do we have?", "how many apps do we have?"},
		{"<@!987> total revenue by country", "total revenue by country"},
		{"top 5 apps <@987>", "top 5 apps"},
		{"no mention", "no mention"},
		{"<@987>", ""},
	}
	for _, tt := range tests {
		if got := stripBotMention(tt.content, "987"); got != tt.want {
			t.Errorf("stripBotMention(%q) = %q, want %q", tt.content, got, tt.want)
		}
	}
}

func TestResolveDisplayName(t *testing.T) {
	author := &discordgo.User{Username: "dana", GlobalName: "Dana R"}

	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: author,
		Member: &discordgo.Member{Nick: "Data Dana"},
	}}
	if got := resolveDisplayName(m); got != "Data Dana" {
		t.Errorf("nickname wins, got %q", got)
	}

	m = &discordgo.MessageCreate{Message: &discordgo.Message{Author: author}}
	if got := resolveDisplayName(m); got != "Dana R" {
		t.Errorf("global name next, got %q", got)
	}

	m = &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{Username: "dana"},
	}}
	if got := resolveDisplayName(m); got != "dana" {
		t.Errorf("username fallback, got %q", got)
	}
}
