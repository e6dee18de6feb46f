package apigroupv1

import (
	"github.com/fulldump/box"
)

func BuildV1Group(v1 *box.R) *box.R {

	groups := v1.Resource("/groups").
		WithActions(
			box.Get(listGroups),
			box.Post(createGroup),
		)

	v1.Resource("/groups/{groupName}").
		WithActions(
			box.Get(getGroup),
			box.ActionPost(dropGroup),
			box.ActionPost(compact),
			box.ActionPost(applySchema),
		)

	v1.Resource("/groups/{groupName}/tables").
		WithActions(
			box.Get(listTables),
			box.Post(createTable),
		)

	v1.Resource("/groups/{groupName}/tables/{tableName}").
		WithActions(
			box.Get(getTable),
			box.ActionPost(dropTable),
			box.ActionPost(addColumn),
			box.ActionPost(removeColumn),
			box.ActionPost(insert),
			box.ActionPost(find),
			box.ActionPost(patch),
			box.ActionPost(remove),
			box.ActionPost(watch),
		)

	return groups
}
