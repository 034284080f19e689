package api

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleGetHealth)

	v1 := s.router.Group("/api/v1")
	{
		opt := v1.Group("/optimizer")
		{
			opt.GET("/status", s.handleGetStatus)
			opt.POST("/suspend", s.handleSuspend)
			opt.POST("/resume", s.handleResume)
			opt.POST("/stop", s.handleStop)
			if s.hub != nil {
				opt.GET("/stream", s.hub.ServeWS)
			}
		}

		runs := v1.Group("/runs")
		{
			runs.GET("", s.handleListRuns)
			runs.GET("/:id", s.handleGetRun)
			runs.GET("/:id/generations", s.handleListGenerations)
		}
	}
}
