// Package main provides the flight-monitor server.
//
// The server pulls live flight snapshots from the Aviation Stack API,
// reconciles them into PostgreSQL (airlines, airports, flights, status
// history), and exposes query endpoints over HTTP. Fetched raw snapshots are
// additionally archived to a local SQLite file, and optionally mirrored to
// ClickHouse and published to NATS.
//
// Usage:
//
//	flight-monitor [options]
//
// Options:
//
//	-api-key KEY        Aviation Stack API key (env: AVIATION_API_KEY)
//	-pg-host HOST       PostgreSQL host (default: localhost, env: POSTGRES_HOST)
//	-pg-port PORT       PostgreSQL port (default: 5432, env: POSTGRES_PORT)
//	-pg-database DB     PostgreSQL database (default: flight_monitor, env: POSTGRES_DATABASE)
//	-pg-user USER       PostgreSQL user (default: flights, env: POSTGRES_USER)
//	-pg-password PASS   PostgreSQL password (default: flights, env: POSTGRES_PASSWORD)
//	-archive PATH       SQLite snapshot archive path (default: snapshots.db, empty: in-memory)
//	-airports PATH      Airport reference data override (default: bundled dataset)
//	-ch-host HOST       ClickHouse host (empty: analytics sink disabled, env: CLICKHOUSE_HOST)
//	-ch-port PORT       ClickHouse port (default: 9000, env: CLICKHOUSE_PORT)
//	-ch-database DB     ClickHouse database (default: flights, env: CLICKHOUSE_DATABASE)
//	-ch-user USER       ClickHouse user (default: default, env: CLICKHOUSE_USER)
//	-ch-password PASS   ClickHouse password (env: CLICKHOUSE_PASSWORD)
//	-nats URL           NATS server URL (empty: publishing disabled, env: NATS_URL)
//	-port N             HTTP port (default: 8080)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"flight_monitor/internal/api"
	"flight_monitor/internal/aviation"
	"flight_monitor/internal/events"
	"flight_monitor/internal/ingest"
	"flight_monitor/internal/refdata"
	"flight_monitor/internal/storage"
)

func main() {
	apiKey := flag.String("api-key", envOrDefault("AVIATION_API_KEY", ""), "Aviation Stack API key")

	// PostgreSQL connection flags.
	pgHost := flag.String("pg-host", envOrDefault("POSTGRES_HOST", "localhost"), "PostgreSQL host")
	pgPort := flag.Int("pg-port", envOrDefaultInt("POSTGRES_PORT", 5432), "PostgreSQL port")
	pgUser := flag.String("pg-user", envOrDefault("POSTGRES_USER", "flights"), "PostgreSQL user")
	pgPassword := flag.String("pg-password", envOrDefault("POSTGRES_PASSWORD", "flights"), "PostgreSQL password")
	pgDB := flag.String("pg-database", envOrDefault("POSTGRES_DATABASE", "flight_monitor"), "PostgreSQL database")

	// Side-channel flags.
	archivePath := flag.String("archive", envOrDefault("ARCHIVE_PATH", "snapshots.db"), "SQLite snapshot archive path")
	airportsPath := flag.String("airports", "", "Airport reference data file (default: bundled dataset)")
	chHost := flag.String("ch-host", envOrDefault("CLICKHOUSE_HOST", ""), "ClickHouse host (empty: disabled)")
	chPort := flag.Int("ch-port", envOrDefaultInt("CLICKHOUSE_PORT", 9000), "ClickHouse port")
	chUser := flag.String("ch-user", envOrDefault("CLICKHOUSE_USER", "default"), "ClickHouse user")
	chPassword := flag.String("ch-password", envOrDefault("CLICKHOUSE_PASSWORD", ""), "ClickHouse password")
	chDB := flag.String("ch-database", envOrDefault("CLICKHOUSE_DATABASE", "flights"), "ClickHouse database")
	natsURL := flag.String("nats", envOrDefault("NATS_URL", ""), "NATS server URL (empty: disabled)")

	port := flag.Int("port", envOrDefaultInt("PORT", 8080), "HTTP port for API server")

	flag.Parse()

	ctx := context.Background()

	// Open PostgreSQL and create the schema.
	pg, err := storage.OpenPostgres(ctx, storage.PostgresConfig{
		Host:     *pgHost,
		Port:     *pgPort,
		Database: *pgDB,
		User:     *pgUser,
		Password: *pgPassword,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening PostgreSQL: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	if err := pg.CreateSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating schema: %v\n", err)
		os.Exit(1)
	}

	// Snapshot archive.
	archive, err := storage.OpenArchive(*archivePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening snapshot archive: %v\n", err)
		os.Exit(1)
	}
	defer archive.Close()

	sinks := ingest.Sinks{Archive: archive}

	// Optional ClickHouse analytics sink.
	if *chHost != "" {
		ch, err := storage.OpenClickHouse(ctx, storage.ClickHouseConfig{
			Host:     *chHost,
			Port:     *chPort,
			Database: *chDB,
			User:     *chUser,
			Password: *chPassword,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening ClickHouse: %v\n", err)
			os.Exit(1)
		}
		defer ch.Close()

		if err := ch.CreateSchema(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating ClickHouse schema: %v\n", err)
			os.Exit(1)
		}
		sinks.Analytics = ch
		log.Printf("ClickHouse analytics sink enabled at %s:%d", *chHost, *chPort)
	}

	// Optional NATS publisher.
	if *natsURL != "" {
		pub, err := events.Connect(*natsURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to NATS: %v\n", err)
			os.Exit(1)
		}
		defer pub.Close()
		sinks.Events = pub
		log.Printf("NATS status publishing enabled at %s", *natsURL)
	}

	// Airport reference data: bundled dataset unless overridden.
	var ref *refdata.Table
	if *airportsPath != "" {
		ref, err = refdata.LoadFile(*airportsPath)
	} else {
		ref, err = refdata.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading airport reference data: %v\n", err)
		os.Exit(1)
	}
	log.Printf("Loaded %d reference airports", ref.Len())

	ingester := ingest.New(ingest.NewPostgresStore(pg), ref, sinks)
	client := aviation.NewClient(*apiKey)

	server := api.NewServer(pg, client, ingester, api.Config{Port: *port})
	if err := server.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
