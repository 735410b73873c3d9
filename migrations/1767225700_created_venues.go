package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("venues")

		collection.Fields.Add(&core.RelationField{
			Name:          "owner",
			Required:      true,
			CollectionId:  users.Id,
			CascadeDelete: false,
			MaxSelect:     1,
		})
		collection.Fields.Add(&core.TextField{
			Name:     "name",
			Required: true,
			Max:      200,
		})
		collection.Fields.Add(&core.SelectField{
			Name:      "category",
			Required:  true,
			MaxSelect: 1,
			Values: []string{
				"restaurant",
				"cafe",
				"clinic",
				"bank",
				"government",
				"retail",
				"other",
			},
		})
		collection.Fields.Add(&core.TextField{
			Name: "address",
			Max:  500,
		})
		collection.Fields.Add(&core.NumberField{
			Name:     "latitude",
			Required: true,
		})
		collection.Fields.Add(&core.NumberField{
			Name:     "longitude",
			Required: true,
		})
		collection.Fields.Add(&core.BoolField{
			Name: "is_approved",
		})
		collection.Fields.Add(&core.BoolField{
			Name: "paused",
		})
		collection.Fields.Add(&core.NumberField{
			Name:    "default_service_minutes",
			OnlyInt: true,
		})
		collection.Fields.Add(&core.AutodateField{
			Name:     "created",
			OnCreate: true,
		})
		collection.Fields.Add(&core.AutodateField{
			Name:     "updated",
			OnCreate: true,
			OnUpdate: true,
		})

		collection.ListRule = types.Pointer("is_approved = true || owner = @request.auth.id")
		collection.ViewRule = types.Pointer("is_approved = true || owner = @request.auth.id")
		collection.CreateRule = types.Pointer("@request.auth.id != '' && owner = @request.auth.id")
		collection.UpdateRule = types.Pointer("owner = @request.auth.id")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("venues")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
