package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/app"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db"
)

// Seeds a development database. Safe to run repeatedly.
func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.New(cfg.Database.Pool())
	if err != nil {
		log.Fatalf("configure database: %v", err)
	}
	if err := pool.Connect(ctx); err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close(ctx)

	err = pool.Begin(ctx, func(ctx context.Context, tx *db.Tx) error {
		fmt.Println("→ Seeding users...")
		if err := seedUsers(ctx, tx); err != nil {
			return fmt.Errorf("seed users: %w", err)
		}
		fmt.Println("→ Seeding projects...")
		if err := seedProjects(ctx, tx); err != nil {
			return fmt.Errorf("seed projects: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedUsers(ctx context.Context, q db.Querier) error {
	users := []struct {
		username string
		email    string
		password string
	}{
		{"root", "root@muistot.local", "root1234"},
		{"curator", "curator@muistot.local", "curator1234"},
		{"visitor", "visitor@muistot.local", "visitor1234"},
	}
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		_, err = q.Execute(ctx, `
			INSERT INTO users (username, email, password_hash, verified)
			VALUES (:username, :email, :hash, TRUE)
			ON CONFLICT (username) DO NOTHING`,
			db.Args{"username": u.username, "email": u.email, "hash": string(hash)})
		if err != nil {
			return err
		}
	}
	_, err := q.Execute(ctx, `
		INSERT INTO superusers (user_id)
		SELECT id FROM users WHERE username = 'root'
		ON CONFLICT DO NOTHING`, nil)
	return err
}

func seedProjects(ctx context.Context, q db.Querier) error {
	projects := []struct {
		name      string
		title     string
		published bool
	}{
		{"helsinki", "Helsingin muistot", true},
		{"draft", "Keskeneräinen", false},
	}
	for _, p := range projects {
		_, err := q.Execute(ctx, `
			INSERT INTO projects (name, title, published, user_id)
			SELECT :name, :title, :published, id FROM users WHERE username = 'curator'
			ON CONFLICT (name) DO NOTHING`,
			db.Args{"name": p.name, "title": p.title, "published": p.published})
		if err != nil {
			return err
		}
	}

	statements := []string{
		`INSERT INTO project_admins (project_id, user_id)
		 SELECT p.id, u.id FROM projects p, users u WHERE p.name = 'helsinki' AND u.username = 'curator'
		 ON CONFLICT DO NOTHING`,
		`INSERT INTO sites (project_id, name, title, lat, lon, published)
		 SELECT id, 'senaatintori', 'Senaatintori', 60.1692, 24.9525, TRUE FROM projects WHERE name = 'helsinki'
		 ON CONFLICT (project_id, name) DO NOTHING`,
		`INSERT INTO memories (site_id, title, story, published, user_id)
		 SELECT s.id, 'Vappu 1975', 'Tori oli täynnä ylioppilaslakkeja.', TRUE, u.id
		 FROM sites s, users u
		 WHERE s.name = 'senaatintori' AND u.username = 'visitor'
		   AND NOT EXISTS (SELECT 1 FROM memories m WHERE m.site_id = s.id)`,
		`INSERT INTO comments (memory_id, comment, published, user_id)
		 SELECT m.id, 'Muistan tämän!', FALSE, u.id
		 FROM memories m, users u
		 WHERE u.username = 'root'
		   AND NOT EXISTS (SELECT 1 FROM comments c WHERE c.memory_id = m.id)`,
	}
	for _, stmt := range statements {
		if _, err := q.Execute(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}
