package directory

// sampleEmployees seed New. IDs are assigned on insert.
var sampleEmployees = []Employee{
	{
		Name:       "Taro Tanaka",
		Email:      "tanaka@example.com",
		Department: "Engineering",
		Position:   "Senior Engineer",
		Salary:     8000000,
		HireDate:   "2020-04-01",
	},
	{
		Name:       "Hanako Sato",
		Email:      "sato@example.com",
		Department: "Marketing",
		Position:   "Manager",
		Salary:     7500000,
		HireDate:   "2019-07-15",
	},
	{
		Name:       "Jiro Suzuki",
		Email:      "suzuki@example.com",
		Department: "Sales",
		Position:   "Account Executive",
		Salary:     6000000,
		HireDate:   "2021-01-10",
	},
	{
		Name:       "Misaki Takahashi",
		Email:      "takahashi@example.com",
		Department: "Engineering",
		Position:   "Frontend Engineer",
		Salary:     7000000,
		HireDate:   "2022-03-01",
	},
	{
		Name:       "Kenta Yamada",
		Email:      "yamada@example.com",
		Department: "Marketing",
		Position:   "Marketing Specialist",
		Salary:     6500000,
		HireDate:   "2021-09-15",
	},
}
