// Package containers starts throwaway Docker services for integration tests
// with testcontainers-go: MySQL for the gorm store, Eclipse Mosquitto for the
// lifecycle publisher and Redis for the shared repeated-message index.
//
//nolint:misspell // Mosquitto is the official Eclipse project name
//
// Containers are shared per package from TestMain:
//
//	var broker *containers.MosquittoContainer
//
//	func TestMain(m *testing.M) {
//	    var err error
//	    broker, err = containers.NewMosquittoContainer(context.Background(), nil)
//	    if err != nil {
//	        panic(err)
//	    }
//	    code := m.Run()
//	    _ = broker.Terminate(context.Background())
//	    os.Exit(code)
//	}
//
// Everything here is behind the "integration" build tag:
//
//	go test -tags=integration ./...
package containers
