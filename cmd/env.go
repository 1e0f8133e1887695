package main

import "github.com/joho/godotenv"

// loadEnvFiles loads .env files without overriding variables already set in
// the environment. Missing files are fine.
func loadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}
