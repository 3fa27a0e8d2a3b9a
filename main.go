package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thiht/addons-registry/cmd"
	"github.com/Thiht/go-command"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	root := command.Root().Help("Index the Odoo addons of git repositories and track their latest versions")

	root.SubCommand("sync-repositories").
		Action(cmd.SyncRepositoriesHandler()).
		Flags(cmd.SyncRepositoriesFlags).
		Help("Clone or pull the repositories, store their addons and classify them")

	root.SubCommand("classify-latest").
		Action(cmd.ClassifyLatestHandler()).
		Flags(cmd.ClassifyLatestFlags).
		Help("Mark which stored module versions are the latest of their repository branch")

	root.SubCommand("list-latest").
		Action(cmd.ListLatestHandler()).
		Flags(cmd.ListLatestFlags).
		Help("Write the latest version and supported series of every module as CSV")

	root.SubCommand("list-series").
		Action(cmd.ListSeriesHandler()).
		Flags(cmd.ListSeriesFlags).
		Help("Write the Odoo series catalog as CSV")

	root.SubCommand("list-branches").
		Action(cmd.ListBranchesHandler()).
		Flags(cmd.ListBranchesFlags).
		Help("List the branches of a remote repository")

	root.SubCommand("list-github-repositories").
		Action(cmd.ListGitHubRepositoriesHandler()).
		Flags(cmd.ListGitHubRepositoriesFlags).
		Help("Write the repositories of a GitHub organization or user as a seed file")

	root.SubCommand("list-github-addons").
		Action(cmd.ListGitHubAddonsHandler()).
		Flags(cmd.ListGitHubAddonsFlags).
		Help("List the addons of a GitHub repository branch without cloning it")

	root.Execute(ctx)
}
