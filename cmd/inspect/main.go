// Command inspect dumps the delivery store of a stopped server as tables.
//
//	inspect -db ./data -user alice              sidebar of alice
//	inspect -db ./data -user alice -peer bob    thread between alice and bob
//	inspect -db ./data -prefix conv:            raw records under a prefix
package main

import (
	"chat-relay/domain"
	"chat-relay/infrastructure/storage"
	"chat-relay/runtime"
	"chat-relay/services"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to badger DB")
	user := flag.String("user", "", "User whose sidebar is printed")
	peer := flag.String("peer", "", "Peer of -user whose thread is printed")
	prefix := flag.String("prefix", "", "Raw key prefix to scan")
	flag.Parse()

	if err := run(*dbPath, domain.UserID(*user), domain.UserID(*peer), *prefix); err != nil {
		fmt.Fprintln(os.Stderr, color.Red.Render("inspect: "+err.Error()))
		os.Exit(1)
	}
}

func run(dbPath string, user, peer domain.UserID, prefix string) error {
	db, err := badger.Open(badger.DefaultOptions(dbPath).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		return fmt.Errorf("error while opening Badger: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	log := logs.GetLoggerFromLevel(slog.LevelWarn)
	store := storage.NewConversationRepository(db, log, nil)
	users := storage.NewUserRepository(db)

	switch {
	case prefix != "":
		return printRecords(db, prefix)
	case user != "" && peer != "":
		return printThread(ctx, store, user, peer)
	case user != "":
		sidebar := services.NewSidebarService(store, users, runtime.NewPresenceRegistry(), log)
		return printSidebar(ctx, sidebar, user)
	default:
		flag.Usage()
		return nil
	}
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func title(s string) {
	fmt.Println(color.New(color.FgGreen, color.OpBold).Render("  ====== " + s + " ======"))
}

func printSidebar(ctx context.Context, sidebar *services.SidebarService, user domain.UserID) error {
	summaries, err := sidebar.BuildSidebar(ctx, user)
	if err != nil {
		return err
	}
	title(fmt.Sprintf("sidebar of %s (%d)", user, len(summaries)))
	table := newTable("Conversation", "With", "Last message", "Unread", "Updated")
	for _, s := range summaries {
		last := "-"
		if s.LastMessage != nil {
			last = fmt.Sprintf("%s: %s", s.LastMessage.AuthorID, preview(s.LastMessage.Content))
		}
		unread := strconv.Itoa(s.UnreadCount)
		if s.UnreadCount > 0 {
			unread = color.Yellow.Render(unread)
		}
		table.Append([]string{
			s.ConversationID.String()[:8],
			displayName(s.OtherParticipant),
			last,
			unread,
			s.UpdatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
	return nil
}

func printThread(ctx context.Context, store *storage.ConversationRepository, user, peer domain.UserID) error {
	conversation, err := store.FindConversation(ctx, user, peer)
	if err != nil {
		return err
	}
	if conversation == nil {
		title(fmt.Sprintf("no conversation between %s and %s", user, peer))
		return nil
	}
	thread, err := store.GetThread(ctx, conversation.ID)
	if err != nil {
		return err
	}
	title(fmt.Sprintf("thread %s (%d messages)", conversation.ID, len(thread.Messages)))
	table := newTable("Seq", "At", "Author", "Lang", "Seen", "Content")
	for _, m := range thread.Messages {
		seen := color.Gray.Render("no")
		if m.Seen {
			seen = color.Green.Render("yes")
		}
		table.Append([]string{
			strconv.FormatUint(m.Seq, 10),
			m.CreatedAt.Format("15:04:05"),
			m.AuthorID.String(),
			m.Lang,
			seen,
			preview(m.Content),
		})
	}
	table.Render()
	return nil
}

func printRecords(db *badger.DB, prefix string) error {
	title("records under " + prefix)
	table := newTable("Key", "Type", "Entity ID", "Detail")
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			err := item.Value(func(v []byte) error {
				record := storage.DescribeRecord(key, v)
				entity := record.Entity
				if len(entity) > 8 {
					entity = entity[:8]
				}
				table.Append([]string{key, record.Kind, entity, record.Detail})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	table.Render()
	return nil
}

func displayName(p domain.UserProfile) string {
	if p.Name == "" {
		return p.ID.String()
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.ID)
}

func preview(c domain.Content) string {
	var parts []string
	if c.Text != "" {
		text := c.Text
		if len([]rune(text)) > 60 {
			text = string([]rune(text)[:60]) + "..."
		}
		parts = append(parts, text)
	}
	if c.ImageRef != "" {
		parts = append(parts, "[image]")
	}
	if c.VideoRef != "" {
		parts = append(parts, "[video]")
	}
	return strings.Join(parts, " ")
}
