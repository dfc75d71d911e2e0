package main

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/solbill/netmetering/backend/config"
	"github.com/solbill/netmetering/backend/database"
	"github.com/solbill/netmetering/backend/handlers"
	"github.com/solbill/netmetering/backend/middleware"
	"github.com/solbill/netmetering/backend/services"
)

var dataCollector *services.DataCollector

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("PANIC RECOVERED: %v", err)
				log.Printf("Stack trace: %s", debug.Stack())

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "Internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s - completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func main() {
	log.Println("Starting Net-Metering Billing System...")
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.Load()

	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	liveHub := services.NewLiveHub()
	dataCollector = services.NewDataCollector(db, liveHub)
	billingService := services.NewBillingService(db, cfg.FallbackEnergyRate)
	pdfGenerator := services.NewPDFGenerator(cfg.InvoicesDir, cfg.Currency)

	go dataCollector.Start()

	authHandler := handlers.NewAuthHandler(db, cfg.JWTSecret)
	companyHandler := handlers.NewCompanyHandler(db)
	meterHandler := handlers.NewMeterHandler(db, dataCollector)
	readingHandler := handlers.NewReadingHandler(db, billingService, liveHub)
	tariffHandler := handlers.NewTariffHandler(db, billingService)
	billingHandler := handlers.NewBillingHandler(db, billingService, pdfGenerator)
	dashboardHandler := handlers.NewDashboardHandler(db, billingService)
	liveHandler := handlers.NewLiveHandler(liveHub)

	r := mux.NewRouter()

	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/health", healthCheck).Methods("GET")
	r.HandleFunc("/api/live", liveHandler.Serve).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	api.HandleFunc("/auth/change-password", authHandler.ChangePassword).Methods("POST")
	api.HandleFunc("/debug/status", debugStatusHandler).Methods("GET")

	api.HandleFunc("/companies", companyHandler.List).Methods("GET")
	api.HandleFunc("/companies", companyHandler.Create).Methods("POST")
	api.HandleFunc("/companies/{id}", companyHandler.Get).Methods("GET")
	api.HandleFunc("/companies/{id}", companyHandler.Update).Methods("PUT")
	api.HandleFunc("/companies/{id}", companyHandler.Delete).Methods("DELETE")

	api.HandleFunc("/meters", meterHandler.List).Methods("GET")
	api.HandleFunc("/meters", meterHandler.Create).Methods("POST")
	api.HandleFunc("/meters/{id}", meterHandler.Get).Methods("GET")
	api.HandleFunc("/meters/{id}", meterHandler.Update).Methods("PUT")
	api.HandleFunc("/meters/{id}", meterHandler.Delete).Methods("DELETE")

	api.HandleFunc("/meters/{id}/readings", readingHandler.List).Methods("GET")
	api.HandleFunc("/meters/{id}/readings", readingHandler.Create).Methods("POST")
	api.HandleFunc("/meters/{id}/readings/import", readingHandler.ImportCSV).Methods("POST")
	api.HandleFunc("/meters/{id}/readings/export", readingHandler.ExportCSV).Methods("GET")
	api.HandleFunc("/meters/{id}/readings/deltas", readingHandler.Deltas).Methods("GET")
	api.HandleFunc("/readings/{readingId}", readingHandler.Update).Methods("PUT")
	api.HandleFunc("/readings/{readingId}", readingHandler.Delete).Methods("DELETE")

	api.HandleFunc("/tariffs", tariffHandler.List).Methods("GET")
	api.HandleFunc("/tariffs", tariffHandler.Create).Methods("POST")
	api.HandleFunc("/tariffs/overlaps", tariffHandler.Overlaps).Methods("GET")
	api.HandleFunc("/tariffs/replicate", tariffHandler.Replicate).Methods("POST")
	api.HandleFunc("/tariffs/{id}", tariffHandler.Get).Methods("GET")
	api.HandleFunc("/tariffs/{id}", tariffHandler.Update).Methods("PUT")
	api.HandleFunc("/tariffs/{id}", tariffHandler.Delete).Methods("DELETE")

	api.HandleFunc("/billing/compute", billingHandler.Compute).Methods("POST")
	api.HandleFunc("/billing/table/{id}", billingHandler.Table).Methods("GET")
	api.HandleFunc("/billing/invoice/{id}", billingHandler.InvoicePDF).Methods("GET")

	api.HandleFunc("/dashboard/stats", dashboardHandler.GetStats).Methods("GET")
	api.HandleFunc("/dashboard/consumption", dashboardHandler.GetConsumption).Methods("GET")
	api.HandleFunc("/dashboard/logs", dashboardHandler.GetLogs).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:4173", "*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		Debug:            false,
	})

	handler := c.Handler(r)

	server := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  180 * time.Second,
	}

	log.Printf("Server starting on %s", cfg.ServerAddress)
	log.Println("Data collector running (15-minute intervals)")
	log.Println("Default credentials: admin / admin123")
	log.Println("IMPORTANT: Change default password after first login!")
	log.Println("===========================================")

	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func debugStatusHandler(w http.ResponseWriter, r *http.Request) {
	debugInfo := dataCollector.GetDebugInfo()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(debugInfo)
}
