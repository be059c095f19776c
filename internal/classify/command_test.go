package classify

import (
	"testing"
	"time"
)

func TestParseCommandFlags(t *testing.T) {
	tests := []struct {
		text string
		want Command
	}{
		{
			text: "echo hello",
			want: Command{},
		},
		{
			text: "sudo apt-get update",
			want: Command{Sudo: true, Apt: true, AptUpdate: true, Download: true},
		},
		{
			text: "sudo apt install -y jq",
			want: Command{Sudo: true, Apt: true, Download: true},
		},
		{
			text: "conda create -n demo python=3.12",
			want: Command{Conda: true, CondaCreate: true, Download: true},
		},
		{
			text: "docker pull nginx:latest",
			want: Command{Docker: true, DockerPull: true, Download: true},
		},
		{
			text: "docker logs -f api",
			want: Command{Docker: true, LogsFollow: true},
		},
		{
			text: "git clone https://example.com/repo.git",
			want: Command{Download: true},
		},
		{
			text: "curl -O https://example.com/big.tar.gz",
			want: Command{Download: true},
		},
	}
	for _, tt := range tests {
		got := ParseCommand(tt.text)
		got.Text = ""
		if got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.text, got, tt.want)
		}
	}
}

func TestBudgetByClass(t *testing.T) {
	base := 30 * time.Second
	window := 180 * time.Second

	plain := ParseCommand("ls -la").Budget()
	if plain.Base != base || plain.ProgressWindow != window || plain.WallCap != 0 {
		t.Errorf("plain budget = %+v", plain)
	}

	docker := ParseCommand("docker build -t app .").Budget()
	if docker.WallCap != 1800*time.Second {
		t.Errorf("docker WallCap = %v", docker.WallCap)
	}

	pull := ParseCommand("docker pull nginx").Budget()
	if pull.WallCap != 3600*time.Second {
		t.Errorf("docker pull WallCap = %v", pull.WallCap)
	}

	conda := ParseCommand("conda create -n demo python=3.12").Budget()
	if conda.WallCap != 1800*time.Second {
		t.Errorf("conda create WallCap = %v", conda.WallCap)
	}
}
