// Package deploykit drives the lifecycle of applications made of managed
// entities.
//
// An application is created from an ApplicationSpec by a
// LocalManagementContext. Starting it starts every Startable child in
// parallel, and the derived service state (service.isUp, service.state)
// follows the children through enrichers. Every lifecycle transition of the
// application is recorded with the usage manager, which publishes it to
// observers as a CloudEvent.
//
//	mgmt, err := deploykit.NewLocalManagementContext()
//	if err != nil {
//		return err
//	}
//	app, err := mgmt.CreateApplication(ctx, deploykit.ApplicationSpec{
//		Name:     "shop",
//		Children: []deploykit.EntitySpec{{Name: "db", Factory: newDatabase}},
//	})
//	if err != nil {
//		return err
//	}
//	err = app.Start(ctx, []deploykit.Location{deploykit.NewLocation("eu-west")})
package deploykit
