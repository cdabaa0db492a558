package pkg

type app struct {
	Name        string
	Description string
}

// App stores internal app state
var App = app{
	Name:        "build-worker",
	Description: "Runs queued deploy builds inside isolated containers and publishes their artifacts.",
}
